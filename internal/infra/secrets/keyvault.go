package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/astro-web3/projecthub-auth/pkg/logger"
)

const fetchTimeout = 10 * time.Second

var ErrEmptySecret = errors.New("secret has no value")

// Source resolves named secrets.
type Source interface {
	Secret(ctx context.Context, name string) (string, error)
}

type secretGetter interface {
	GetSecret(
		ctx context.Context,
		name string,
		version string,
		options *azsecrets.GetSecretOptions,
	) (azsecrets.GetSecretResponse, error)
}

type keyVault struct {
	client   secretGetter
	vaultURL string
}

// NewKeyVault authenticates with DefaultAzureCredential, which covers
// managed identity, workload identity and developer logins.
func NewKeyVault(vaultURL string) (Source, error) {
	if vaultURL == "" {
		return nil, errors.New("vault_url is required for the azure-keyvault secrets provider")
	}

	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	client, err := azsecrets.NewClient(vaultURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Key Vault client: %w", err)
	}

	return &keyVault{client: client, vaultURL: vaultURL}, nil
}

// Secret reads the latest version of name. Underscores are mapped to
// hyphens because Key Vault names cannot contain them.
func (k *keyVault) Secret(ctx context.Context, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	vaultName := strings.ReplaceAll(name, "_", "-")
	resp, err := k.client.GetSecret(ctx, vaultName, "", nil)
	if err != nil {
		return "", fmt.Errorf("failed to get secret %q: %w", vaultName, err)
	}
	if resp.Value == nil || *resp.Value == "" {
		return "", fmt.Errorf("%w: %q", ErrEmptySecret, vaultName)
	}

	logger.InfoContext(ctx, "secret loaded from key vault",
		slog.String("vault_url", k.vaultURL),
		slog.String("secret", vaultName),
	)
	return *resp.Value, nil
}

// Static serves secrets from a fixed map, used when secrets come from
// configuration.
type Static map[string]string

func (s Static) Secret(_ context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %q", ErrEmptySecret, name)
	}
	return v, nil
}
