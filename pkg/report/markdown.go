package report

import (
	"fmt"
	"strings"

	"github.com/ethpandaops/crateroor/pkg/analysis"
	"github.com/ethpandaops/crateroor/pkg/toolchain"
)

// RenderMarkdown renders the report for humans.
func RenderMarkdown(r *WeeklyReport) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Weekly regression report %s\n\n", r.Date)

	sb.WriteString("## Current toolchains\n\n")
	sb.WriteString("| Channel | Archive date | Version |\n|---|---|---|\n")

	for _, ch := range toolchain.Channels {
		version := r.Versions.Get(ch)
		if version == "" {
			version = "unknown"
		}

		tc, ok := r.Current.Toolchain(ch)
		if !ok {
			fmt.Fprintf(&sb, "| %s | none | %s |\n", ch, version)

			continue
		}

		fmt.Fprintf(&sb, "| %s | %s | %s |\n", ch, tc.ArchiveDate, version)
	}

	writeTransition(&sb, "stable", "beta", r.Current.Stable, r.Current.Beta,
		r.BetaSummary, r.BetaRootRegressions, r.BetaNonRootRegressions)
	writeTransition(&sb, "beta", "nightly", r.Current.Beta, r.Current.Nightly,
		r.NightlySummary, r.NightlyRootRegressions, r.NightlyNonRootRegressions)

	return sb.String()
}

func writeTransition(
	sb *strings.Builder,
	from, to string,
	fromDate, toDate *toolchain.Date,
	summary analysis.Summary,
	roots, nonRoots []analysis.CrateStatus,
) {
	fmt.Fprintf(sb, "\n## %s to %s\n\n", from, to)

	if fromDate == nil || toDate == nil {
		sb.WriteString("No archive available for comparison.\n")

		return
	}

	fmt.Fprintf(sb, "Comparing %s-%s with %s-%s.\n\n", from, fromDate, to, toDate)

	sb.WriteString("| Status | Crates |\n|---|---|\n")
	fmt.Fprintf(sb, "| working | %d |\n", summary.Working)
	fmt.Fprintf(sb, "| not working | %d |\n", summary.NotWorking)
	fmt.Fprintf(sb, "| regressed | %d |\n", summary.Regressed)
	fmt.Fprintf(sb, "| fixed | %d |\n", summary.Fixed)

	writeCrateList(sb, "Root regressions", roots)
	writeCrateList(sb, "Dependent regressions", nonRoots)
}

func writeCrateList(sb *strings.Builder, title string, crates []analysis.CrateStatus) {
	fmt.Fprintf(sb, "\n### %s (%d)\n\n", title, len(crates))

	if len(crates) == 0 {
		sb.WriteString("None.\n")

		return
	}

	for _, c := range crates {
		fmt.Fprintf(sb, "- `%s`\n", c)
	}
}
