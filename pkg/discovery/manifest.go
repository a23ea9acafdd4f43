package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ethpandaops/crateroor/pkg/storage"
	"github.com/ethpandaops/crateroor/pkg/toolchain"
)

// VersionResolver reports the rustc version shipped by a toolchain archive.
// Discovery sources that can read channel manifests implement it.
type VersionResolver interface {
	RustVersion(ctx context.Context, tc toolchain.Toolchain) (string, error)
}

// ErrNoManifest is returned when the archive has no channel manifest.
var ErrNoManifest = errors.New("channel manifest not found")

// channelManifest is the subset of channel-rust-<channel>.toml we read.
type channelManifest struct {
	Date string `toml:"date"`
	Pkg  map[string]struct {
		Version string `toml:"version"`
	} `toml:"pkg"`
}

// RustVersion reads the version of the rust package from the channel
// manifest of a dated toolchain, e.g. "1.76.0 (07dca489a 2024-02-04)".
func (d *s3Discovery) RustVersion(ctx context.Context, tc toolchain.Toolchain) (string, error) {
	if tc.ArchiveDate == nil {
		return "", fmt.Errorf("toolchain %s has no archive date", tc)
	}

	key := d.prefix + tc.ArchiveDate.String() + "/channel-rust-" + string(tc.Channel) + ".toml"

	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if storage.IsNotFound(err) {
			return "", fmt.Errorf("%w: %s", ErrNoManifest, key)
		}

		return "", fmt.Errorf("fetching %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	var manifest channelManifest
	if _, err := toml.NewDecoder(out.Body).Decode(&manifest); err != nil {
		return "", fmt.Errorf("decoding %s: %w", key, err)
	}

	rust, ok := manifest.Pkg["rust"]
	if !ok || rust.Version == "" {
		return "", fmt.Errorf("%s has no rust package version", key)
	}

	return rust.Version, nil
}
