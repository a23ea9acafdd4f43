package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/crateroor/pkg/config"
	"github.com/ethpandaops/crateroor/pkg/report"
	"github.com/ethpandaops/crateroor/pkg/storage"
)

// objectPutter is the subset of the S3 client used for publishing.
type objectPutter interface {
	PutObject(
		ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options),
	) (*s3.PutObjectOutput, error)
}

// s3Publisher implements Publisher for S3-compatible storage.
type s3Publisher struct {
	log    logrus.FieldLogger
	cfg    *config.S3Config
	client objectPutter
}

// Ensure interface compliance.
var _ Publisher = (*s3Publisher)(nil)

// NewS3Publisher creates a new S3 publisher from the given configuration.
func NewS3Publisher(log logrus.FieldLogger, cfg *config.S3Config) Publisher {
	return newS3Publisher(log, cfg, storage.NewS3Client(cfg))
}

func newS3Publisher(
	log logrus.FieldLogger, cfg *config.S3Config, client objectPutter,
) *s3Publisher {
	return &s3Publisher{
		log:    log.WithField("component", "s3-publisher"),
		cfg:    cfg,
		client: client,
	}
}

// Preflight verifies S3 connectivity by writing a small test object.
func (p *s3Publisher) Preflight(ctx context.Context) error {
	content := fmt.Sprintf("crateroor write test: %s", time.Now().UTC().Format(time.RFC3339))

	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.cfg.Bucket),
		Key:         aws.String(".crateroor-write-test"),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", p.cfg.Bucket, err)
	}

	return nil
}

type artifact struct {
	name        string
	contentType string
	body        []byte
}

// Publish uploads report.json and report.md for the report date.
func (p *s3Publisher) Publish(ctx context.Context, r *report.WeeklyReport) ([]string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding report: %w", err)
	}

	artifacts := []artifact{
		{name: "report.json", contentType: "application/json", body: data},
		{name: "report.md", contentType: "text/markdown; charset=utf-8",
			body: []byte(report.RenderMarkdown(r))},
	}

	prefix := p.resolvePrefix(r.Date.String())
	keys := make([]string, 0, len(artifacts))

	for _, a := range artifacts {
		key := prefix + "/" + a.name

		p.log.WithFields(logrus.Fields{
			"key":    key,
			"bucket": p.cfg.Bucket,
		}).Debug("Uploading report")

		if _, err := p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.cfg.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(a.body),
			ContentType: aws.String(a.contentType),
		}); err != nil {
			return nil, fmt.Errorf("uploading %s: %w", key, err)
		}

		keys = append(keys, key)
	}

	p.log.WithFields(logrus.Fields{
		"files":  len(keys),
		"bucket": p.cfg.Bucket,
		"prefix": prefix,
	}).Info("Report published")

	return keys, nil
}

// resolvePrefix builds the S3 key prefix for a report date.
func (p *s3Publisher) resolvePrefix(date string) string {
	prefix := p.cfg.Prefix
	if prefix == "" {
		prefix = config.DefaultPublishPrefix
	}

	return strings.TrimRight(prefix, "/") + "/" + date
}
