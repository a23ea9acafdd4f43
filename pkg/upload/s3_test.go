package upload

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/crateroor/pkg/analysis"
	"github.com/ethpandaops/crateroor/pkg/config"
	"github.com/ethpandaops/crateroor/pkg/report"
	"github.com/ethpandaops/crateroor/pkg/toolchain"
)

type putCall struct {
	bucket      string
	key         string
	contentType string
	body        []byte
}

type fakePutter struct {
	calls []putCall
	err   error
}

func (f *fakePutter) PutObject(
	_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options),
) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}

	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.calls = append(f.calls, putCall{
		bucket:      aws.ToString(in.Bucket),
		key:         aws.ToString(in.Key),
		contentType: aws.ToString(in.ContentType),
		body:        body,
	})

	return &s3.PutObjectOutput{}, nil
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func TestResolvePrefix(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		date   string
		want   string
	}{
		{
			name: "default prefix",
			date: "2024-02-15",
			want: "reports/weekly/2024-02-15",
		},
		{
			name:   "custom prefix",
			prefix: "crater/history",
			date:   "2024-02-15",
			want:   "crater/history/2024-02-15",
		},
		{
			name:   "trailing slash stripped",
			prefix: "my-prefix/",
			date:   "2024-02-15",
			want:   "my-prefix/2024-02-15",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &s3Publisher{
				cfg: &config.S3Config{Prefix: tt.prefix},
			}
			assert.Equal(t, tt.want, p.resolvePrefix(tt.date))
		})
	}
}

func TestPublish(t *testing.T) {
	putter := &fakePutter{}
	p := newS3Publisher(testLogger(), &config.S3Config{Bucket: "reports", Prefix: "weekly/"}, putter)

	stable := toolchain.NewDate(2024, time.January, 1)
	r := &report.WeeklyReport{
		Date:    toolchain.NewDate(2024, time.January, 10),
		Current: report.Current{Stable: &stable},
		BetaRootRegressions: []analysis.CrateStatus{
			{CrateName: "foo", CrateVers: "1.0", Status: analysis.StatusRegressed},
		},
	}

	keys, err := p.Publish(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"weekly/2024-01-10/report.json",
		"weekly/2024-01-10/report.md",
	}, keys)

	require.Len(t, putter.calls, 2)
	assert.Equal(t, "reports", putter.calls[0].bucket)
	assert.Equal(t, "application/json", putter.calls[0].contentType)
	assert.Contains(t, putter.calls[1].contentType, "text/markdown")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(putter.calls[0].body, &decoded))
	assert.Equal(t, "2024-01-10", decoded["date"])
	assert.Equal(t, "2024-01-01", decoded["current"].(map[string]any)["stable"])

	assert.Contains(t, string(putter.calls[1].body), "# Weekly regression report 2024-01-10")
}

func TestPublish_Error(t *testing.T) {
	p := newS3Publisher(testLogger(), &config.S3Config{Bucket: "reports"},
		&fakePutter{err: errors.New("denied")})

	keys, err := p.Publish(context.Background(), &report.WeeklyReport{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
	assert.Nil(t, keys)
}

func TestPreflight(t *testing.T) {
	putter := &fakePutter{}
	p := newS3Publisher(testLogger(), &config.S3Config{Bucket: "reports"}, putter)

	require.NoError(t, p.Preflight(context.Background()))
	require.Len(t, putter.calls, 1)
	assert.Equal(t, ".crateroor-write-test", putter.calls[0].key)
	assert.Contains(t, string(putter.calls[0].body), "crateroor write test")
}
