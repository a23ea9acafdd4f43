package upload

import (
	"context"

	"github.com/ethpandaops/crateroor/pkg/report"
)

// Publisher stores rendered weekly reports in remote storage.
type Publisher interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// Publish uploads the JSON and markdown renderings of r under
	// prefix + "/" + r.Date and returns the written keys.
	Publish(ctx context.Context, r *report.WeeklyReport) ([]string, error)
}
