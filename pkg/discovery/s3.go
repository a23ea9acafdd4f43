package discovery

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/crateroor/pkg/config"
	"github.com/ethpandaops/crateroor/pkg/toolchain"
)

// listConcurrency bounds the number of per-date listings in flight.
const listConcurrency = 16

var manifestPattern = regexp.MustCompile(`^channel-rust-(stable|beta|nightly)\.toml$`)

// S3Client is the subset of the S3 client used for discovery.
type S3Client interface {
	s3.ListObjectsV2APIClient
	GetObject(
		ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options),
	) (*s3.GetObjectOutput, error)
}

// Compile-time interface checks.
var (
	_ Discovery       = (*s3Discovery)(nil)
	_ VersionResolver = (*s3Discovery)(nil)
)

type s3Discovery struct {
	log    logrus.FieldLogger
	client S3Client
	bucket string
	prefix string
}

// NewS3Discovery returns a Discovery that lists the Rust dist bucket. Every
// "<prefix>YYYY-MM-DD/" directory holding a channel-rust-<channel>.toml
// manifest counts as an archive of that channel.
func NewS3Discovery(
	log logrus.FieldLogger,
	client S3Client,
	cfg *config.S3Config,
) Discovery {
	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &s3Discovery{
		log:    log.WithField("component", "discovery"),
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
	}
}

func (d *s3Discovery) AvailableToolchains(ctx context.Context) (*Available, error) {
	dates, err := d.listDates(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu        sync.Mutex
		available Available
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)

	for _, date := range dates {
		g.Go(func() error {
			channels, err := d.listChannels(gctx, date)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()

			for _, ch := range channels {
				available.add(ch, date)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	available.sort()

	d.log.WithFields(logrus.Fields{
		"stable":  len(available.Stable),
		"beta":    len(available.Beta),
		"nightly": len(available.Nightly),
	}).Debug("Discovered toolchain archives")

	return &available, nil
}

// listDates returns every date-named directory directly under the prefix.
func (d *s3Discovery) listDates(ctx context.Context) ([]toolchain.Date, error) {
	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.bucket),
		Prefix:    aws.String(d.prefix),
		Delimiter: aws.String("/"),
	})

	var dates []toolchain.Date

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %s/%s: %w", d.bucket, d.prefix, err)
		}

		for _, cp := range page.CommonPrefixes {
			name := path.Base(strings.TrimSuffix(aws.ToString(cp.Prefix), "/"))

			date, err := toolchain.ParseDate(name)
			if err != nil {
				continue
			}

			dates = append(dates, date)
		}
	}

	return dates, nil
}

// listChannels returns the channels with a manifest in the date directory.
func (d *s3Discovery) listChannels(
	ctx context.Context, date toolchain.Date,
) ([]toolchain.Channel, error) {
	prefix := d.prefix + date.String() + "/channel-rust-"

	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(prefix),
	})

	var channels []toolchain.Channel

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %s/%s: %w", d.bucket, prefix, err)
		}

		for _, obj := range page.Contents {
			m := manifestPattern.FindStringSubmatch(path.Base(aws.ToString(obj.Key)))
			if m == nil {
				continue
			}

			channels = append(channels, toolchain.Channel(m[1]))
		}
	}

	return channels, nil
}
