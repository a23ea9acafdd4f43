package discovery

import (
	"context"
	"slices"
)

// staticDiscovery serves a fixed set of dates, typically from config.
type staticDiscovery struct {
	available Available
}

// NewStaticDiscovery returns a Discovery serving copies of the given dates.
func NewStaticDiscovery(available *Available) Discovery {
	a := Available{
		Stable:  slices.Clone(available.Stable),
		Beta:    slices.Clone(available.Beta),
		Nightly: slices.Clone(available.Nightly),
	}
	a.sort()

	return &staticDiscovery{available: a}
}

func (s *staticDiscovery) AvailableToolchains(_ context.Context) (*Available, error) {
	return &Available{
		Stable:  slices.Clone(s.available.Stable),
		Beta:    slices.Clone(s.available.Beta),
		Nightly: slices.Clone(s.available.Nightly),
	}, nil
}
