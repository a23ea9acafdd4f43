package resultstore

import (
	"fmt"

	"github.com/ethpandaops/crateroor/pkg/toolchain"
)

// Key identifies a build result. It is unique within the store.
type Key struct {
	Toolchain toolchain.Toolchain `json:"toolchain"`
	CrateName string              `json:"crate_name"`
	CrateVers string              `json:"crate_vers"`
}

// BuildResult is the outcome of building one crate version with one
// toolchain. TaskID references the external build task, if any.
type BuildResult struct {
	Key
	Success bool    `json:"success"`
	TaskID  *string `json:"task_id,omitempty"`
}

// Outcome is one side of a ResultPair.
type Outcome struct {
	Success bool    `json:"success"`
	TaskID  *string `json:"task_id,omitempty"`
}

// ResultPair holds the outcomes of a crate version under two toolchains.
type ResultPair struct {
	CrateName string  `json:"crate_name"`
	CrateVers string  `json:"crate_vers"`
	From      Outcome `json:"from"`
	To        Outcome `json:"to"`
}

// resultRow is the persisted form of a BuildResult.
type resultRow struct {
	Toolchain string  `gorm:"column:toolchain;primaryKey;type:text;not null"`
	CrateName string  `gorm:"column:crate_name;primaryKey;type:text;not null"`
	CrateVers string  `gorm:"column:crate_vers;primaryKey;type:text;not null"`
	Success   bool    `gorm:"column:success;not null"`
	TaskID    *string `gorm:"column:task_id;type:text"`
}

// TableName implements gorm's tabler interface.
func (resultRow) TableName() string {
	return "build_results"
}

func newResultRow(r *BuildResult) *resultRow {
	return &resultRow{
		Toolchain: r.Toolchain.String(),
		CrateName: r.CrateName,
		CrateVers: r.CrateVers,
		Success:   r.Success,
		TaskID:    r.TaskID,
	}
}

func (r *resultRow) toBuildResult() (*BuildResult, error) {
	tc, err := toolchain.Parse(r.Toolchain)
	if err != nil {
		return nil, fmt.Errorf("%w: stored toolchain: %w", ErrQuery, err)
	}

	return &BuildResult{
		Key: Key{
			Toolchain: tc,
			CrateName: r.CrateName,
			CrateVers: r.CrateVers,
		},
		Success: r.Success,
		TaskID:  r.TaskID,
	}, nil
}

// pairRow is the scan target of the result pair join.
type pairRow struct {
	CrateName   string
	CrateVers   string
	FromSuccess bool
	ToSuccess   bool
	FromTaskID  *string
	ToTaskID    *string
}

func (r *pairRow) toResultPair() ResultPair {
	return ResultPair{
		CrateName: r.CrateName,
		CrateVers: r.CrateVers,
		From:      Outcome{Success: r.FromSuccess, TaskID: r.FromTaskID},
		To:        Outcome{Success: r.ToSuccess, TaskID: r.ToTaskID},
	}
}
