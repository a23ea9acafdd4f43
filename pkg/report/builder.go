package report

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/crateroor/pkg/analysis"
	"github.com/ethpandaops/crateroor/pkg/depgraph"
	"github.com/ethpandaops/crateroor/pkg/discovery"
	"github.com/ethpandaops/crateroor/pkg/resultstore"
	"github.com/ethpandaops/crateroor/pkg/toolchain"
)

// PairSource supplies joined build results of two toolchains.
// resultstore.Store satisfies it.
type PairSource interface {
	ResultPairs(
		ctx context.Context, from, to toolchain.Toolchain,
	) ([]resultstore.ResultPair, error)
}

// Builder assembles weekly reports from stored results.
type Builder struct {
	log       logrus.FieldLogger
	pairs     PairSource
	discovery discovery.Discovery
	graphs    depgraph.Provider
}

// NewBuilder creates a report builder.
func NewBuilder(
	log logrus.FieldLogger,
	pairs PairSource,
	disc discovery.Discovery,
	graphs depgraph.Provider,
) *Builder {
	return &Builder{
		log:       log.WithField("component", "report"),
		pairs:     pairs,
		discovery: disc,
		graphs:    graphs,
	}
}

// Build computes the weekly report for date. Any collaborator failure
// aborts the build; no partial report is returned.
func (b *Builder) Build(ctx context.Context, date toolchain.Date) (*WeeklyReport, error) {
	available, err := b.discovery.AvailableToolchains(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovering toolchains: %w", err)
	}

	current := ResolveCurrentToolchains(date, available)

	log := b.log.WithFields(logrus.Fields{
		"date":    date.String(),
		"stable":  formatDate(current.Stable),
		"beta":    formatDate(current.Beta),
		"nightly": formatDate(current.Nightly),
	})
	log.Info("Building weekly report")

	var betaStatuses, nightlyStatuses []analysis.CrateStatus

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		statuses, err := b.transition(gCtx, current, toolchain.Stable, toolchain.Beta)
		if err != nil {
			return err
		}

		betaStatuses = statuses

		return nil
	})

	g.Go(func() error {
		statuses, err := b.transition(gCtx, current, toolchain.Beta, toolchain.Nightly)
		if err != nil {
			return err
		}

		nightlyStatuses = statuses

		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	betaRegressions := analysis.SelectRegressions(betaStatuses)
	nightlyRegressions := analysis.SelectRegressions(nightlyStatuses)

	var graph depgraph.Graph

	if len(betaRegressions) > 0 || len(nightlyRegressions) > 0 {
		graph, err = b.graphs.Graph(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading dependency graph: %w", err)
		}
	}

	betaRoots := analysis.PruneDependentRegressions(b.log, betaRegressions, graph)
	nightlyRoots := analysis.PruneDependentRegressions(b.log, nightlyRegressions, graph)

	report := &WeeklyReport{
		Date:                      date,
		Current:                   current,
		Versions:                  b.resolveVersions(ctx, current),
		BetaStatuses:              betaStatuses,
		NightlyStatuses:           nightlyStatuses,
		BetaSummary:               analysis.Summarize(betaStatuses),
		NightlySummary:            analysis.Summarize(nightlyStatuses),
		BetaRegressions:           betaRegressions,
		NightlyRegressions:        nightlyRegressions,
		BetaRootRegressions:       betaRoots,
		NightlyRootRegressions:    nightlyRoots,
		BetaNonRootRegressions:    analysis.SplitNonRoot(betaRegressions, betaRoots),
		NightlyNonRootRegressions: analysis.SplitNonRoot(nightlyRegressions, nightlyRoots),
	}

	log.WithFields(logrus.Fields{
		"beta_regressions":    len(betaRegressions),
		"beta_roots":          len(betaRoots),
		"nightly_regressions": len(nightlyRegressions),
		"nightly_roots":       len(nightlyRoots),
	}).Info("Weekly report built")

	return report, nil
}

// transition classifies the results of from against to. A channel without
// a current archive yields an empty status list.
func (b *Builder) transition(
	ctx context.Context,
	current Current,
	from, to toolchain.Channel,
) ([]analysis.CrateStatus, error) {
	fromTC, ok := current.Toolchain(from)
	if !ok {
		return []analysis.CrateStatus{}, nil
	}

	toTC, ok := current.Toolchain(to)
	if !ok {
		return []analysis.CrateStatus{}, nil
	}

	pairs, err := b.pairs.ResultPairs(ctx, fromTC, toTC)
	if err != nil {
		return nil, fmt.Errorf("comparing %s with %s: %w", fromTC, toTC, err)
	}

	return analysis.ClassifyPairs(pairs), nil
}

// resolveVersions looks up the rustc version of each current toolchain.
// Versions are informational, so lookup failures are only logged.
func (b *Builder) resolveVersions(ctx context.Context, current Current) Versions {
	var versions Versions

	resolver, ok := b.discovery.(discovery.VersionResolver)
	if !ok {
		return versions
	}

	for _, ch := range toolchain.Channels {
		tc, ok := current.Toolchain(ch)
		if !ok {
			continue
		}

		version, err := resolver.RustVersion(ctx, tc)
		if err != nil {
			b.log.WithError(err).WithField("toolchain", tc.String()).
				Warn("Failed to resolve rustc version")

			continue
		}

		versions.set(ch, version)
	}

	return versions
}

func formatDate(d *toolchain.Date) string {
	if d == nil {
		return "none"
	}

	return d.String()
}
