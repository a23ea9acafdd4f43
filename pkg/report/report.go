package report

import (
	"github.com/ethpandaops/crateroor/pkg/analysis"
	"github.com/ethpandaops/crateroor/pkg/discovery"
	"github.com/ethpandaops/crateroor/pkg/toolchain"
)

// Current holds the archive date in effect for each channel on a given
// day. A nil date means the channel had no archive yet.
type Current struct {
	Stable  *toolchain.Date `json:"stable"  yaml:"stable"`
	Beta    *toolchain.Date `json:"beta"    yaml:"beta"`
	Nightly *toolchain.Date `json:"nightly" yaml:"nightly"`
}

// Toolchain returns the dated toolchain of channel, or false when the
// channel has no current archive.
func (c Current) Toolchain(channel toolchain.Channel) (toolchain.Toolchain, bool) {
	var d *toolchain.Date

	switch channel {
	case toolchain.Stable:
		d = c.Stable
	case toolchain.Beta:
		d = c.Beta
	case toolchain.Nightly:
		d = c.Nightly
	}

	if d == nil {
		return toolchain.Toolchain{}, false
	}

	return toolchain.New(channel, d), true
}

// Versions holds the rustc version string of each current toolchain, when
// the discovery source can resolve it.
type Versions struct {
	Stable  string `json:"stable,omitempty"  yaml:"stable,omitempty"`
	Beta    string `json:"beta,omitempty"    yaml:"beta,omitempty"`
	Nightly string `json:"nightly,omitempty" yaml:"nightly,omitempty"`
}

func (v *Versions) set(channel toolchain.Channel, version string) {
	switch channel {
	case toolchain.Stable:
		v.Stable = version
	case toolchain.Beta:
		v.Beta = version
	case toolchain.Nightly:
		v.Nightly = version
	}
}

// Get returns the version of channel, or "" when unknown.
func (v Versions) Get(channel toolchain.Channel) string {
	switch channel {
	case toolchain.Stable:
		return v.Stable
	case toolchain.Beta:
		return v.Beta
	case toolchain.Nightly:
		return v.Nightly
	default:
		return ""
	}
}

// WeeklyReport compares stable against beta and beta against nightly as
// of Date.
type WeeklyReport struct {
	Date     toolchain.Date `json:"date"     yaml:"date"`
	Current  Current        `json:"current"  yaml:"current"`
	Versions Versions       `json:"versions" yaml:"versions"`

	BetaStatuses    []analysis.CrateStatus `json:"beta_statuses"    yaml:"beta_statuses"`
	NightlyStatuses []analysis.CrateStatus `json:"nightly_statuses" yaml:"nightly_statuses"`

	BetaSummary    analysis.Summary `json:"beta_summary"    yaml:"beta_summary"`
	NightlySummary analysis.Summary `json:"nightly_summary" yaml:"nightly_summary"`

	BetaRegressions    []analysis.CrateStatus `json:"beta_regressions"    yaml:"beta_regressions"`
	NightlyRegressions []analysis.CrateStatus `json:"nightly_regressions" yaml:"nightly_regressions"`

	BetaRootRegressions    []analysis.CrateStatus `json:"beta_root_regressions"    yaml:"beta_root_regressions"`
	NightlyRootRegressions []analysis.CrateStatus `json:"nightly_root_regressions" yaml:"nightly_root_regressions"`

	BetaNonRootRegressions    []analysis.CrateStatus `json:"beta_non_root_regressions"    yaml:"beta_non_root_regressions"`
	NightlyNonRootRegressions []analysis.CrateStatus `json:"nightly_non_root_regressions" yaml:"nightly_non_root_regressions"`
}

// ResolveCurrentToolchains picks, per channel, the latest available date
// not after date.
func ResolveCurrentToolchains(date toolchain.Date, available *discovery.Available) Current {
	return Current{
		Stable:  latestOnOrBefore(date, available.Stable),
		Beta:    latestOnOrBefore(date, available.Beta),
		Nightly: latestOnOrBefore(date, available.Nightly),
	}
}

// latestOnOrBefore expects dates in ascending order.
func latestOnOrBefore(date toolchain.Date, dates []toolchain.Date) *toolchain.Date {
	var current *toolchain.Date

	for i := range dates {
		if dates[i].After(date) {
			break
		}

		d := dates[i]
		current = &d
	}

	return current
}
