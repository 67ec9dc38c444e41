package challenge

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/numtide/appservice-cert-wizard/errs"
	"github.com/pkg/errors"
)

// ObjectStore is the part of the S3 API the blob strategy uses.
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Config struct {
	Bucket         string
	Region         string
	AccessKeyID    string
	SecretKey      string
	Endpoint       string // for S3 compatible services
	ForcePathStyle bool
}

// NewS3Client builds an S3 client. Static credentials are used when given,
// the default AWS credential chain otherwise.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, errs.Invalid("s3", "bucket and region are required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "while loading AWS config")
	}

	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	}), nil
}

// Blob stores proofs as objects. The web app is expected to answer
// /.well-known/acme-challenge/ requests from the bucket.
type Blob struct {
	client ObjectStore
	bucket string
	prefix string
}

func NewBlob(client ObjectStore, bucket, prefix string) *Blob {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Blob{client: client, bucket: bucket, prefix: prefix}
}

func (b *Blob) Channel() Channel { return BlobHTTP }

func (b *Blob) key(token string) string {
	return b.prefix + strings.TrimPrefix(http01.ChallengePath(token), "/")
}

func (b *Blob) PlaceProof(ctx context.Context, domain, token, keyAuth string) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key(token)),
		Body:        strings.NewReader(keyAuth),
		ContentType: aws.String("text/plain"),
	})
	return errors.Wrapf(err, "while storing proof for %s", domain)
}

func (b *Blob) Cleanup(ctx context.Context, domain, token, keyAuth string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(token)),
	})
	return errors.Wrapf(err, "while removing proof for %s", domain)
}
