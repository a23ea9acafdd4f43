package storage

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ethpandaops/crateroor/pkg/config"
)

// defaultRegion is used when the config does not name one.
const defaultRegion = "us-east-1"

// NewS3Client creates an S3 client for the given bucket settings. Without
// static credentials the client signs no requests, which is what public
// buckets such as the Rust dist bucket expect.
func NewS3Client(cfg *config.S3Config) *s3.Client {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = defaultRegion
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			} else {
				o.Credentials = aws.AnonymousCredentials{}
			}
		},
	}

	return s3.New(s3.Options{}, opts...)
}

// IsNotFound reports whether err is an S3 missing key or bucket error.
func IsNotFound(err error) bool {
	var (
		noKey    *s3types.NoSuchKey
		noBucket *s3types.NoSuchBucket
		notFound *s3types.NotFound
	)

	return errors.As(err, &noKey) ||
		errors.As(err, &noBucket) ||
		errors.As(err, &notFound)
}
