package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tacohub/collab-relay/internal/model"
	"github.com/tacohub/collab-relay/internal/repository"
)

// Discard drops every record.
type Discard struct{}

func (Discard) Put(context.Context, string, model.AuditRecord) error { return nil }

// FileSink writes each record as an indented JSON file under Dir.
type FileSink struct{ Dir string }

func (s FileSink) Put(_ context.Context, key string, rec model.AuditRecord) error {
	path := filepath.Join(s.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// ObjectPutter is the part of the S3 client the sink uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads records to a bucket.
type S3Sink struct {
	client ObjectPutter
	bucket string
}

// NewS3Sink constructs a sink over an existing client.
func NewS3Sink(client ObjectPutter, bucket string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket}
}

// NewS3SinkFromEnv builds the client from the default AWS credential chain.
func NewS3SinkFromEnv(ctx context.Context, bucket string) (*S3Sink, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	return NewS3Sink(s3.NewFromConfig(cfg), bucket), nil
}

func (s *S3Sink) Put(ctx context.Context, key string, rec model.AuditRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json"),
	})
	return err
}

// RepoSink stores records through an audit repository.
type RepoSink struct{ Repo repository.AuditRepository }

func (s RepoSink) Put(ctx context.Context, key string, rec model.AuditRecord) error {
	return s.Repo.Insert(ctx, key, rec)
}

// Multi writes to every sink and joins the failures.
type Multi []Sink

func (m Multi) Put(ctx context.Context, key string, rec model.AuditRecord) error {
	var errList []error
	for _, s := range m {
		if err := s.Put(ctx, key, rec); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}
