package analysis

import (
	"errors"
	"fmt"

	"github.com/ethpandaops/crateroor/pkg/resultstore"
)

// ErrInvalidStatus indicates a status value outside the four known
// categories reached the analyzer. It signals a caller bug.
var ErrInvalidStatus = errors.New("invalid crate status")

// Status is the outcome of comparing a crate's builds on two toolchains.
type Status string

// Build status categories.
const (
	StatusWorking    Status = "working"
	StatusNotWorking Status = "not-working"
	StatusRegressed  Status = "regressed"
	StatusFixed      Status = "fixed"
)

// Valid reports whether s is one of the four status categories.
func (s Status) Valid() bool {
	switch s {
	case StatusWorking, StatusNotWorking, StatusRegressed, StatusFixed:
		return true
	default:
		return false
	}
}

// Classify maps the success flags of the from and to builds to a status.
func Classify(fromSuccess, toSuccess bool) Status {
	switch {
	case fromSuccess && toSuccess:
		return StatusWorking
	case !fromSuccess && !toSuccess:
		return StatusNotWorking
	case fromSuccess:
		return StatusRegressed
	default:
		return StatusFixed
	}
}

// CrateStatus is the status of one crate version between two toolchains.
type CrateStatus struct {
	CrateName string `json:"crate_name" yaml:"crate_name"`
	CrateVers string `json:"crate_vers" yaml:"crate_vers"`
	Status    Status `json:"status" yaml:"status"`
}

// String returns "name@version".
func (c CrateStatus) String() string {
	return c.CrateName + "@" + c.CrateVers
}

// ClassifyPairs classifies every result pair, preserving order.
func ClassifyPairs(pairs []resultstore.ResultPair) []CrateStatus {
	statuses := make([]CrateStatus, 0, len(pairs))

	for _, p := range pairs {
		statuses = append(statuses, CrateStatus{
			CrateName: p.CrateName,
			CrateVers: p.CrateVers,
			Status:    Classify(p.From.Success, p.To.Success),
		})
	}

	return statuses
}

// Summary counts crates per status. The four counts always sum to the
// number of statuses summarized.
type Summary struct {
	Working    int `json:"working" yaml:"working"`
	NotWorking int `json:"not_working" yaml:"not_working"`
	Regressed  int `json:"regressed" yaml:"regressed"`
	Fixed      int `json:"fixed" yaml:"fixed"`
}

// Total returns the number of crates counted.
func (s Summary) Total() int {
	return s.Working + s.NotWorking + s.Regressed + s.Fixed
}

// Summarize counts statuses by category. It panics on a status outside
// the four categories.
func Summarize(statuses []CrateStatus) Summary {
	var sum Summary

	for _, s := range statuses {
		switch s.Status {
		case StatusWorking:
			sum.Working++
		case StatusNotWorking:
			sum.NotWorking++
		case StatusRegressed:
			sum.Regressed++
		case StatusFixed:
			sum.Fixed++
		default:
			panic(fmt.Errorf("%w: %q for %s", ErrInvalidStatus, s.Status, s))
		}
	}

	return sum
}
