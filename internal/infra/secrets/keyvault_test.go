package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/stretchr/testify/require"
)

type mockGetter struct {
	values map[string]string
	err    error
	asked  []string
}

func (m *mockGetter) GetSecret(
	_ context.Context,
	name string,
	_ string,
	_ *azsecrets.GetSecretOptions,
) (azsecrets.GetSecretResponse, error) {
	m.asked = append(m.asked, name)
	if m.err != nil {
		return azsecrets.GetSecretResponse{}, m.err
	}
	resp := azsecrets.GetSecretResponse{}
	if v, ok := m.values[name]; ok {
		resp.Value = &v
	}
	return resp, nil
}

func TestKeyVaultSecret(t *testing.T) {
	getter := &mockGetter{values: map[string]string{"projecthub-signing-secret": "s3cr3t"}}
	kv := &keyVault{client: getter, vaultURL: "https://vault.example"}

	v, err := kv.Secret(context.Background(), "projecthub_signing_secret")
	require.NoError(t, err)
	require.Equal(t, "s3cr3t", v)
	require.Equal(t, []string{"projecthub-signing-secret"}, getter.asked)

	_, err = kv.Secret(context.Background(), "missing")
	require.ErrorIs(t, err, ErrEmptySecret)

	getter.err = errors.New("forbidden")
	_, err = kv.Secret(context.Background(), "projecthub-signing-secret")
	require.Error(t, err)
}

func TestNewKeyVaultRequiresURL(t *testing.T) {
	_, err := NewKeyVault("")
	require.Error(t, err)
}

func TestStatic(t *testing.T) {
	s := Static{"a": "1", "empty": ""}
	v, err := s.Secret(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, "1", v)

	_, err = s.Secret(context.Background(), "empty")
	require.ErrorIs(t, err, ErrEmptySecret)
}
