package analysis

import (
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/crateroor/pkg/depgraph"
)

// SelectRegressions returns the regressed statuses in input order.
func SelectRegressions(statuses []CrateStatus) []CrateStatus {
	regressions := make([]CrateStatus, 0)

	for _, s := range statuses {
		if s.Status == StatusRegressed {
			regressions = append(regressions, s)
		}
	}

	return regressions
}

// PruneDependentRegressions returns the root regressions: those whose
// transitive dependencies contain no other regressed crate. Input order is
// preserved. Crates missing from the graph are treated as having no
// dependencies.
func PruneDependentRegressions(
	log logrus.FieldLogger,
	regressions []CrateStatus,
	graph depgraph.Graph,
) []CrateStatus {
	regressed := make(map[string]struct{}, len(regressions))
	for _, r := range regressions {
		regressed[r.CrateName] = struct{}{}
	}

	roots := make([]CrateStatus, 0, len(regressions))

	for _, r := range regressions {
		rlog := log.WithField("crate", r.String())

		deps, known := graph.Dependencies(r.CrateName)
		if !known {
			rlog.WithError(depgraph.ErrGraphGap).
				Debug("No dependency information, treating as root")
		}

		if culprit, ok := findRegressedDependency(rlog, r.CrateName, deps, regressed, graph); ok {
			rlog.WithField("dependency", culprit).
				Debug("Depends on regressed crate")

			continue
		}

		rlog.Debug("Independent regression")

		roots = append(roots, r)
	}

	return roots
}

// findRegressedDependency walks the dependency graph from deps using an
// explicit work list and visited set, returning the first regressed crate
// reached other than self. Dependencies missing from the graph end their
// branch of the walk.
func findRegressedDependency(
	log logrus.FieldLogger,
	self string,
	deps []string,
	regressed map[string]struct{},
	graph depgraph.Graph,
) (string, bool) {
	// self starts visited: a crate reaching itself through a cycle is not
	// made dependent by that alone.
	visited := map[string]struct{}{self: {}}

	work := make([]string, len(deps))
	copy(work, deps)

	for len(work) > 0 {
		next := work[len(work)-1]
		work = work[:len(work)-1]

		if _, seen := visited[next]; seen {
			continue
		}

		visited[next] = struct{}{}

		if _, ok := regressed[next]; ok {
			return next, true
		}

		nextDeps, known := graph.Dependencies(next)
		if !known {
			log.WithError(depgraph.ErrGraphGap).WithField("dependency", next).
				Debug("No dependency information for dependency")

			continue
		}

		work = append(work, nextDeps...)
	}

	return "", false
}

// SplitNonRoot returns the regressions not present in roots, in input
// order. Crates are matched by name only, so a root regression in one
// version hides regressions of every other version of the same crate.
func SplitNonRoot(all, roots []CrateStatus) []CrateStatus {
	rootNames := make(map[string]struct{}, len(roots))
	for _, r := range roots {
		rootNames[r.CrateName] = struct{}{}
	}

	nonRoot := make([]CrateStatus, 0)

	for _, r := range all {
		if _, ok := rootNames[r.CrateName]; !ok {
			nonRoot = append(nonRoot, r)
		}
	}

	return nonRoot
}
