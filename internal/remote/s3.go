package remote

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	appErrors "toaupdate/internal/errors"
)

// S3Config describes a bucket holding a published release tree.
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// getObjectAPI is the subset of the S3 client used here.
type getObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads objects from a bucket, keyed by {prefix}/{path}.
type S3Source struct {
	client getObjectAPI
	bucket string
	prefix string
}

// NewS3Source builds an S3 client from cfg. Static credentials are used when
// both keys are set; otherwise the default AWS credential chain applies.
func NewS3Source(ctx context.Context, cfg S3Config) (*S3Source, error) {
	if cfg.Bucket == "" {
		return nil, appErrors.New(appErrors.CodeConfigurationError, "s3 source: bucket is required", nil)
	}
	if cfg.Region == "" {
		return nil, appErrors.New(appErrors.CodeConfigurationError, "s3 source: region is required", nil)
	}

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, appErrors.New(appErrors.CodeConfigurationError, "load AWS config", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// MinIO and Localstack need path-style addressing.
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3SourceWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3SourceWithClient(client getObjectAPI, bucket, prefix string) *S3Source {
	return &S3Source{client: client, bucket: bucket, prefix: cleanPath(prefix)}
}

// Open fetches the object at path. NoCache is ignored: S3 reads are
// strongly consistent.
func (s *S3Source) Open(ctx context.Context, req Request) (*Object, error) {
	key := s.key(req.Path)
	ctx, cancel := withTimeout(ctx, req.Timeout)

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		cancel()
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, appErrors.New(appErrors.CodeTransientNetwork,
				fmt.Sprintf("s3://%s/%s", s.bucket, key), ErrNotFound)
		}
		return nil, appErrors.New(appErrors.CodeTransientNetwork,
			fmt.Sprintf("get s3://%s/%s", s.bucket, key), err)
	}

	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return &Object{
		Body: &cancelOnClose{ReadCloser: out.Body, cancel: cancel},
		Size: size,
	}, nil
}

func (s *S3Source) key(p string) string {
	p = cleanPath(p)
	if s.prefix == "" {
		return p
	}
	return path.Join(s.prefix, p)
}
