package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/johnwmail/nshare/internal/expiry"
	"github.com/johnwmail/nshare/models"
)

const (
	s3ExpiresAtMeta       = "expires-at"
	s3DefaultWriteRetries = 10
)

// s3API is the subset of the S3 client the store uses
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Options configures the S3 backend. Endpoint and PathStyle allow
// S3-compatible servers such as MinIO.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	PathStyle bool
}

// S3Store implements PasteStore with one JSON object per code.
// Writes are conditional so concurrent creators and updaters cannot
// overwrite each other.
type S3Store struct {
	bucket string
	prefix string
	client s3API
	logger *slog.Logger

	writeRetries int
}

// NewS3Store creates a new S3Store instance
func NewS3Store(ctx context.Context, opts S3Options, logger *slog.Logger) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket name must not be empty")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})
	return newS3StoreWithClient(client, opts.Bucket, opts.Prefix, logger), nil
}

func newS3StoreWithClient(client s3API, bucket, prefix string, logger *slog.Logger) *S3Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Store{
		bucket: bucket,
		prefix: normalizeS3Prefix(prefix),
		client: client,
		logger: logger,

		writeRetries: s3DefaultWriteRetries,
	}
}

func (s *S3Store) key(code string) string {
	return applyS3Prefix(s.prefix, code+".json")
}

// Create saves a paste unless its code is already present
func (s *S3Store) Create(ctx context.Context, paste *models.Paste) error {
	body, err := json.Marshal(paste)
	if err != nil {
		return fmt.Errorf("failed to marshal paste %s: %w", paste.Code, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(paste.Code)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
		Metadata:    map[string]string{s3ExpiresAtMeta: strconv.FormatInt(paste.ExpiresAt, 10)},
	})
	if err != nil {
		if isS3PreconditionFailed(err) {
			return ErrCodeTaken
		}
		return fmt.Errorf("s3 create paste %s: %w", paste.Code, err)
	}
	return nil
}

// Get retrieves a paste by code
func (s *S3Store) Get(ctx context.Context, code string) (*models.Paste, error) {
	paste, _, err := s.read(ctx, code)
	return paste, err
}

func (s *S3Store) read(ctx context.Context, code string) (*models.Paste, string, error) {
	obj, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(code)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("s3 get paste %s: %w", code, err)
	}
	defer func() {
		_ = obj.Body.Close()
	}()

	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return nil, "", fmt.Errorf("s3 read paste %s: %w", code, err)
	}
	var paste models.Paste
	if err := json.Unmarshal(data, &paste); err != nil {
		return nil, "", fmt.Errorf("s3 decode paste %s: %w", code, err)
	}
	return &paste, aws.ToString(obj.ETag), nil
}

// modify applies fn with read-modify-write guarded by the object's ETag
func (s *S3Store) modify(ctx context.Context, code string, fn func(*models.Paste)) (*models.Paste, error) {
	for attempt := 0; attempt < s.writeRetries; attempt++ {
		paste, etag, err := s.read(ctx, code)
		if err != nil {
			return nil, err
		}
		fn(paste)

		body, err := json.Marshal(paste)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal paste %s: %w", code, err)
		}
		input := &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(s.key(code)),
			Body:        bytes.NewReader(body),
			ContentType: aws.String("application/json"),
			Metadata:    map[string]string{s3ExpiresAtMeta: strconv.FormatInt(paste.ExpiresAt, 10)},
		}
		if etag != "" {
			input.IfMatch = aws.String(etag)
		}

		_, err = s.client.PutObject(ctx, input)
		if err == nil {
			return paste, nil
		}
		if !isS3PreconditionFailed(err) {
			return nil, fmt.Errorf("s3 write paste %s: %w", code, err)
		}
		s.logger.Debug("s3 conditional write conflict, retrying", "code", code, "attempt", attempt+1)
	}
	return nil, fmt.Errorf("s3 write paste %s: too many concurrent writers", code)
}

// UpdateContent overwrites the content of a paste
func (s *S3Store) UpdateContent(ctx context.Context, code, content string) error {
	_, err := s.modify(ctx, code, func(p *models.Paste) {
		p.Content = content
	})
	return err
}

// IncrementDownloadCount increments the download count for a paste
func (s *S3Store) IncrementDownloadCount(ctx context.Context, code string) (int64, error) {
	paste, err := s.modify(ctx, code, func(p *models.Paste) {
		p.DownloadCount++
	})
	if err != nil {
		return 0, err
	}
	return paste.DownloadCount, nil
}

// Delete removes a paste object
func (s *S3Store) Delete(ctx context.Context, code string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(code)),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("s3 delete paste %s: %w", code, err)
	}
	return nil
}

// Sweep lists paste objects and deletes those whose expires-at metadata
// lies before now.
func (s *S3Store) Sweep(ctx context.Context, now time.Time) (int, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	removed := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return removed, fmt.Errorf("s3 list pastes: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".json") {
				continue
			}
			head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				if isS3NotFound(err) {
					continue
				}
				return removed, fmt.Errorf("s3 head %s: %w", key, err)
			}
			expiresAt, err := strconv.ParseInt(head.Metadata[s3ExpiresAtMeta], 10, 64)
			if err != nil {
				s.logger.Warn("s3 object without expiry metadata", "key", key)
				continue
			}
			if expiry.IsLive(expiresAt, now) {
				continue
			}
			_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				return removed, fmt.Errorf("s3 delete %s: %w", key, err)
			}
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op for S3
func (s *S3Store) Close() error {
	return nil
}
