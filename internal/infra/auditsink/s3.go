package auditsink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/astro-web3/projecthub-auth/internal/ids"
	"github.com/astro-web3/projecthub-auth/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	DefaultBatchSize     = 500
	DefaultFlushInterval = 30 * time.Second
)

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	BatchSize       int
	FlushInterval   time.Duration
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Writer batches audit lines into newline-delimited objects. A batch is
// uploaded when it reaches BatchSize lines, when FlushInterval elapses, and
// on Close.
type S3Writer struct {
	client    objectPutter
	bucket    string
	prefix    string
	batchSize int
	now       func() time.Time

	mu    sync.Mutex
	buf   bytes.Buffer
	lines int

	stop    chan struct{}
	stopped chan struct{}
}

// NewS3Client builds an S3 client. Static credentials are used when given,
// otherwise the default AWS credential chain applies. A custom endpoint
// enables S3-compatible stores such as MinIO.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func NewS3Writer(client objectPutter, cfg S3Config) (*S3Writer, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("audit s3 bucket is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}

	w := &S3Writer{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    cfg.Prefix,
		batchSize: cfg.BatchSize,
		now:       time.Now,
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go w.flushLoop(cfg.FlushInterval)
	return w, nil
}

func (w *S3Writer) WriteLine(ctx context.Context, line []byte) error {
	w.mu.Lock()
	w.buf.Write(line)
	w.buf.WriteByte('\n')
	w.lines++
	full := w.lines >= w.batchSize
	w.mu.Unlock()

	if full {
		return w.Flush(ctx)
	}
	return nil
}

// Flush uploads the current batch, if any. A failed batch is dropped.
func (w *S3Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	if w.lines == 0 {
		w.mu.Unlock()
		return nil
	}
	body := bytes.Clone(w.buf.Bytes())
	count := w.lines
	w.buf.Reset()
	w.lines = 0
	w.mu.Unlock()

	key := w.objectKey()
	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("upload audit batch %s (%d records): %w", key, count, err)
	}
	return nil
}

func (w *S3Writer) Close(ctx context.Context) error {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	<-w.stopped
	return w.Flush(ctx)
}

func (w *S3Writer) flushLoop(interval time.Duration) {
	defer close(w.stopped)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			if err := w.Flush(ctx); err != nil {
				logger.ErrorContext(ctx, "audit archive flush failed", slog.String("error", err.Error()))
			}
			cancel()
		}
	}
}

func (w *S3Writer) objectKey() string {
	now := w.now().UTC()
	return path.Join(w.prefix, now.Format("2006/01/02"), ids.NewAt(now)+".jsonl")
}
