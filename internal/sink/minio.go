package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/deploymenttheory/go-recovery/internal/interfaces"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

// S3Config locates an S3-compatible bucket
type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// Region skips the bucket location lookup when set
	Region string
	Prefix string
	// Client replaces the client built from the fields above
	Client *minio.Client
}

func (c S3Config) validate() error {
	if c.Bucket == "" {
		return errors.New("bucket is required")
	}
	if c.Client == nil && c.Endpoint == "" {
		return errors.New("endpoint is required when client is not provided")
	}
	return nil
}

// MinioSink uploads recovered files as objects. Each file is streamed
// through a pipe into PutObject, so nothing is buffered in full.
type MinioSink struct {
	client *minio.Client
	bucket string
	prefix string
	ctx    context.Context

	mu sync.Mutex
	// open holds keys being uploaded, which StatObject cannot see yet
	open map[string]bool
}

// NewMinioSink creates a sink for the bucket in cfg. Uploads stop when ctx
// is cancelled.
func NewMinioSink(ctx context.Context, cfg S3Config) (*MinioSink, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid s3 config: %w", err)
	}
	client := cfg.Client
	if client == nil {
		var err error
		client, err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create minio client: %w", err)
		}
	}
	return &MinioSink{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		ctx:    ctx,
		open:   make(map[string]bool),
	}, nil
}

func (s *MinioSink) key(name string) string {
	name = normalize(name)
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Create starts the upload of a new object of exactly sizeHint bytes
func (s *MinioSink) Create(name string, sizeHint uint64) (interfaces.WritableHandle, error) {
	key := s.key(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open[key] {
		return nil, fmt.Errorf("%w: %s", types.ErrNameCollision, key)
	}
	_, err := s.client.StatObject(s.ctx, s.bucket, key, minio.StatObjectOptions{})
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s", types.ErrNameCollision, key)
	case minio.ToErrorResponse(err).Code != "NoSuchKey":
		return nil, fmt.Errorf("%w: stat %s: %v", types.ErrDestinationIO, key, err)
	}

	s.open[key] = true
	pr, pw := io.Pipe()
	h := &objectHandle{sink: s, key: key, pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := s.client.PutObject(s.ctx, s.bucket, key, pr, int64(sizeHint), minio.PutObjectOptions{
			ContentType: "application/octet-stream",
		})
		// unblock a writer still sending after a failed upload
		pr.CloseWithError(err)
		h.done <- err
	}()
	return h, nil
}

// Remove deletes the object of name. An upload that was cut short never
// completes, so this only matters for objects that were finished.
func (s *MinioSink) Remove(name string) error {
	key := s.key(name)
	err := s.client.RemoveObject(context.WithoutCancel(s.ctx), s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("%w: remove %s: %v", types.ErrDestinationIO, key, err)
	}
	return nil
}

// Location returns the s3:// URL of name
func (s *MinioSink) Location(name string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key(name))
}

type objectHandle struct {
	sink *MinioSink
	key  string
	pw   *io.PipeWriter
	done chan error
}

func (h *objectHandle) Append(data []byte) error {
	if _, err := h.pw.Write(data); err != nil {
		return fmt.Errorf("%w: upload %s: %v", types.ErrDestinationIO, h.key, err)
	}
	return nil
}

func (h *objectHandle) Close() error {
	_ = h.pw.Close()
	err := <-h.done

	h.sink.mu.Lock()
	delete(h.sink.open, h.key)
	h.sink.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%w: upload %s: %v", types.ErrDestinationIO, h.key, err)
	}
	return nil
}
