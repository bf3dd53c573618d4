package auditsink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/astro-web3/projecthub-auth/internal/domain/audit"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

type blockingWriter struct {
	release chan struct{}
	mu      sync.Mutex
	lines   []string
	closed  bool
}

func (b *blockingWriter) WriteLine(_ context.Context, line []byte) error {
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, string(line))
	return nil
}

func (b *blockingWriter) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func TestAsyncSinkWritesJSONLines(t *testing.T) {
	var out bytes.Buffer
	sink := NewAsyncSink(NewStreamWriter(&out), 8)

	status := 200
	sink.Emit(context.Background(), audit.Record{Type: audit.DirectionRequest, Method: "POST", URL: "/api/auth/login", User: "anonymous"})
	sink.Emit(context.Background(), audit.Record{Type: audit.DirectionResponse, Method: "POST", URL: "/api/auth/login", User: "anonymous", Status: &status})
	require.NoError(t, sink.Close(context.Background()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, "REQUEST", first["type"])
	require.NotContains(t, first, "status")

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	require.Equal(t, "RESPONSE", second["type"])
	require.InDelta(t, 200, second["status"], 0)
}

func TestAsyncSinkDropsWhenFull(t *testing.T) {
	w := &blockingWriter{release: make(chan struct{})}
	sink := NewAsyncSink(w, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			sink.Emit(context.Background(), audit.Record{RequestID: "r"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow writer")
	}

	close(w.release)
	require.NoError(t, sink.Close(context.Background()))
	require.True(t, w.closed)
	require.Less(t, len(w.lines), 50)
	require.NotEmpty(t, w.lines)
}

func TestAsyncSinkIgnoresEmitAfterClose(t *testing.T) {
	sink := NewAsyncSink(NewStreamWriter(io.Discard), 1)
	require.NoError(t, sink.Close(context.Background()))
	require.NoError(t, sink.Close(context.Background()))
	sink.Emit(context.Background(), audit.Record{})
}

type mockPutter struct {
	mu      sync.Mutex
	objects map[string]string
	err     error
}

func (m *mockPutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.objects[*in.Key] = string(body)
	return &s3.PutObjectOutput{}, nil
}

func (m *mockPutter) snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.objects))
	for k, v := range m.objects {
		out[k] = v
	}
	return out
}

func TestS3WriterBatches(t *testing.T) {
	putter := &mockPutter{objects: map[string]string{}}
	w, err := NewS3Writer(putter, S3Config{Bucket: "audit", Prefix: "projecthub", BatchSize: 2, FlushInterval: time.Hour})
	require.NoError(t, err)
	w.now = func() time.Time { return time.Date(2025, 7, 4, 10, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	require.NoError(t, w.WriteLine(ctx, []byte(`{"n":1}`)))
	require.Empty(t, putter.snapshot())
	require.NoError(t, w.WriteLine(ctx, []byte(`{"n":2}`)))

	objects := putter.snapshot()
	require.Len(t, objects, 1)
	for key, body := range objects {
		require.True(t, strings.HasPrefix(key, "projecthub/2025/07/04/"))
		require.True(t, strings.HasSuffix(key, ".jsonl"))
		require.Equal(t, "{\"n\":1}\n{\"n\":2}\n", body)
	}

	require.NoError(t, w.WriteLine(ctx, []byte(`{"n":3}`)))
	require.NoError(t, w.Close(ctx))
	require.Len(t, putter.snapshot(), 2)
}

func TestS3WriterReportsUploadFailure(t *testing.T) {
	putter := &mockPutter{objects: map[string]string{}, err: errors.New("access denied")}
	w, err := NewS3Writer(putter, S3Config{Bucket: "audit", BatchSize: 1, FlushInterval: time.Hour})
	require.NoError(t, err)

	require.Error(t, w.WriteLine(context.Background(), []byte(`{}`)))
	require.NoError(t, w.Close(context.Background()))
}

func TestNewS3WriterRequiresBucket(t *testing.T) {
	_, err := NewS3Writer(&mockPutter{}, S3Config{})
	require.Error(t, err)
}
