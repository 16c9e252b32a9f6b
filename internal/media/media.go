// Package media stores uploaded files in S3 under content-addressed keys.
package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-cms/internal/log"
	"github.com/keithlinneman/linnemanlabs-cms/internal/xerrors"
)

var (
	ErrEmpty           = errors.New("media: empty upload")
	ErrTooLarge        = errors.New("media: upload too large")
	ErrUnsupportedType = errors.New("media: unsupported content type")
)

const (
	defaultMaxBytes   = 10 << 20
	defaultPresignTTL = 15 * time.Minute
	immutableCache    = "public, max-age=31536000, immutable"
)

// DefaultAllowed is used when Options.Allowed is empty. SVG is left out
// because it can carry script.
var DefaultAllowed = []string{
	"image/png",
	"image/jpeg",
	"image/gif",
	"image/webp",
	"image/avif",
	"application/pdf",
	"text/plain",
}

// ObjectAPI is the subset of *s3.Client used here.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// PresignAPI is the subset of *s3.PresignClient used here.
type PresignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type Options struct {
	Bucket string
	Prefix string

	// PublicURL serves objects directly (e.g. a CDN). When empty URL presigns.
	PublicURL  string
	PresignTTL time.Duration

	MaxBytes int64
	Allowed  []string

	// UploadsPerSec throttles PutObject across all callers. <= 0 disables.
	UploadsPerSec float64

	Logger log.Logger
}

// Object describes a stored upload.
type Object struct {
	Key         string
	ContentType string
	Size        int64
	SHA256      string
}

type Store struct {
	opts    Options
	objects ObjectAPI
	presign PresignAPI
	limiter *rate.Limiter
	logger  log.Logger
}

// New builds a Store over the given clients. presign may be nil when PublicURL is set.
func New(objects ObjectAPI, presign PresignAPI, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, xerrors.New("media: bucket is required")
	}
	if objects == nil {
		return nil, xerrors.New("media: object client is required")
	}
	if opts.PublicURL == "" && presign == nil {
		return nil, xerrors.New("media: presign client is required without a public url")
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = defaultPresignTTL
	}
	if len(opts.Allowed) == 0 {
		opts.Allowed = DefaultAllowed
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	opts.PublicURL = strings.TrimRight(opts.PublicURL, "/")
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	lim := rate.NewLimiter(rate.Inf, 1)
	if opts.UploadsPerSec > 0 {
		burst := int(opts.UploadsPerSec)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(opts.UploadsPerSec), burst)
	}

	return &Store{
		opts:    opts,
		objects: objects,
		presign: presign,
		limiter: lim,
		logger:  opts.Logger.With("component", "media", "bucket", opts.Bucket),
	}, nil
}

// NewFromConfig builds a Store with S3 clients from awsCfg.
func NewFromConfig(awsCfg aws.Config, opts Options) (*Store, error) {
	client := s3.NewFromConfig(awsCfg)
	return New(client, s3.NewPresignClient(client), opts)
}

func (s *Store) MaxBytes() int64 { return s.opts.MaxBytes }

// Key returns the object key for content with the given sha256 hex and extension.
func (s *Store) Key(sum, ext string) string {
	return path.Join(s.opts.Prefix, sum[:2], sum+ext)
}

// Inspect reads body (up to MaxBytes) and works out its type and key without uploading.
func (s *Store) Inspect(body io.Reader) (*Object, []byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, s.opts.MaxBytes+1))
	if err != nil {
		return nil, nil, xerrors.Wrap(err, "read upload")
	}
	if len(data) == 0 {
		return nil, nil, ErrEmpty
	}
	if int64(len(data)) > s.opts.MaxBytes {
		return nil, nil, ErrTooLarge
	}

	mt := mimetype.Detect(data)
	if !s.allowed(mt) {
		return nil, nil, xerrors.Mark(ErrUnsupportedType, "%s", mt.String())
	}

	h := sha256.Sum256(data)
	sum := hex.EncodeToString(h[:])
	return &Object{
		Key:         s.Key(sum, mt.Extension()),
		ContentType: mt.String(),
		Size:        int64(len(data)),
		SHA256:      sum,
	}, data, nil
}

func (s *Store) allowed(mt *mimetype.MIME) bool {
	for _, a := range s.opts.Allowed {
		if mt.Is(a) {
			return true
		}
	}
	return false
}

// Put stores body under its content address. filename is only logged.
func (s *Store) Put(ctx context.Context, filename string, body io.Reader) (*Object, error) {
	obj, data, err := s.Inspect(body)
	if err != nil {
		return nil, err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, xerrors.Wrap(err, "wait for upload slot")
	}

	_, err = s.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.opts.Bucket),
		Key:           aws.String(obj.Key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(obj.Size),
		ContentType:   aws.String(obj.ContentType),
		CacheControl:  aws.String(immutableCache),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "put s3://%s/%s", s.opts.Bucket, obj.Key)
	}

	s.logger.Info(ctx, "stored media",
		"key", obj.Key,
		"filename", filename,
		"content_type", obj.ContentType,
		"size", obj.Size,
	)
	return obj, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.objects.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return xerrors.Wrapf(err, "delete s3://%s/%s", s.opts.Bucket, key)
	}
	return nil
}

// URL returns where clients can fetch key.
func (s *Store) URL(ctx context.Context, key string) (string, error) {
	if s.opts.PublicURL != "" {
		return s.opts.PublicURL + "/" + key, nil
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.opts.PresignTTL))
	if err != nil {
		return "", xerrors.Wrapf(err, "presign %s", key)
	}
	return req.URL, nil
}
