package discovery

import (
	"context"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/crateroor/pkg/config"
	"github.com/ethpandaops/crateroor/pkg/storage"
	"github.com/ethpandaops/crateroor/pkg/toolchain"
)

// Discovery reports the archive dates published for each release channel.
type Discovery interface {
	AvailableToolchains(ctx context.Context) (*Available, error)
}

// Available holds the archive dates of each channel in ascending order.
type Available struct {
	Stable  []toolchain.Date `json:"stable"`
	Beta    []toolchain.Date `json:"beta"`
	Nightly []toolchain.Date `json:"nightly"`
}

// Dates returns the dates of the given channel.
func (a *Available) Dates(channel toolchain.Channel) []toolchain.Date {
	switch channel {
	case toolchain.Stable:
		return a.Stable
	case toolchain.Beta:
		return a.Beta
	case toolchain.Nightly:
		return a.Nightly
	default:
		return nil
	}
}

func (a *Available) add(channel toolchain.Channel, d toolchain.Date) {
	switch channel {
	case toolchain.Stable:
		a.Stable = append(a.Stable, d)
	case toolchain.Beta:
		a.Beta = append(a.Beta, d)
	case toolchain.Nightly:
		a.Nightly = append(a.Nightly, d)
	}
}

// sort orders each channel ascending and drops duplicate dates.
func (a *Available) sort() {
	for _, dates := range []*[]toolchain.Date{&a.Stable, &a.Beta, &a.Nightly} {
		slices.SortFunc(*dates, toolchain.Date.Compare)
		*dates = slices.Compact(*dates)
	}
}

// New creates the discovery source selected by cfg.Source.
func New(log logrus.FieldLogger, cfg *config.DiscoveryConfig) (Discovery, error) {
	switch cfg.Source {
	case "s3":
		return NewS3Discovery(log, storage.NewS3Client(&cfg.S3), &cfg.S3), nil
	case "static":
		return NewStaticDiscovery(&Available{
			Stable:  cfg.Static.Stable,
			Beta:    cfg.Static.Beta,
			Nightly: cfg.Static.Nightly,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported discovery source: %s", cfg.Source)
	}
}
