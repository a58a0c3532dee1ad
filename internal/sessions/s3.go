package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/haasonsaas/conduit/pkg/models"
)

// s3API is the subset of the S3 client the store uses.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config configures an object-storage checkpoint store.
type S3Config struct {
	Bucket string
	Prefix string
	Region string

	// Endpoint targets S3-compatible services such as MinIO.
	Endpoint     string
	UsePathStyle bool

	// Static credentials; the default AWS credential chain is used when empty.
	AccessKeyID     string
	SecretAccessKey string
}

// maxConditionalAttempts bounds retries when another writer updated the
// object between our read and write.
const maxConditionalAttempts = 5

// S3Store stores each checkpoint as a JSON object. Saves use conditional
// writes (If-Match / If-None-Match) so concurrent writers merge instead of
// overwriting each other.
type S3Store struct {
	client s3API
	bucket string
	prefix string
	locks  *Locker
	now    func() time.Time
}

// NewS3Store creates an S3 checkpoint store from cfg.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return newS3Store(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Store(client s3API, bucket, prefix string) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		locks:  NewLocker(),
		now:    time.Now,
	}
}

func (s *S3Store) key(id string) string {
	return path.Join(s.prefix, "checkpoints", id+".json")
}

// Load returns the stored checkpoint, or (nil, nil) when none exists.
func (s *S3Store) Load(ctx context.Context, id string) (*models.Checkpoint, error) {
	cp, _, err := s.get(ctx, id)
	return cp, err
}

func (s *S3Store) get(ctx context.Context, id string) (*models.Checkpoint, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("failed to get checkpoint: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read checkpoint: %w", err)
	}
	cp, err := decodeCheckpoint(data)
	if err != nil {
		return nil, "", err
	}
	return cp, aws.ToString(out.ETag), nil
}

// Save merges cp into the stored object, retrying the read-merge-write cycle
// when a conditional write loses a race with another process.
func (s *S3Store) Save(ctx context.Context, cp *models.Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}
	unlock, err := s.locks.Lock(ctx, cp.ID)
	if err != nil {
		return err
	}
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < maxConditionalAttempts; attempt++ {
		existing, etag, err := s.get(ctx, cp.ID)
		if err != nil {
			return err
		}

		merged := Merge(existing, cp)
		if merged.CreatedAt.IsZero() {
			merged.CreatedAt = s.now()
		}
		data, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("failed to encode checkpoint: %w", err)
		}

		input := &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(s.key(cp.ID)),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/json"),
		}
		if etag != "" {
			input.IfMatch = aws.String(etag)
		} else {
			input.IfNoneMatch = aws.String("*")
		}

		_, err = s.client.PutObject(ctx, input)
		if err == nil {
			return nil
		}
		if !isPreconditionFailed(err) {
			return fmt.Errorf("failed to put checkpoint: %w", err)
		}
		lastErr = err
	}
	return fmt.Errorf("failed to put checkpoint after %d attempts: %w", maxConditionalAttempts, lastErr)
}

// Delete removes a checkpoint object.
func (s *S3Store) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Close is a no-op.
func (s *S3Store) Close() error { return nil }

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}
