package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ethpandaops/crateroor/pkg/analysis"
	"github.com/ethpandaops/crateroor/pkg/ingest"
	"github.com/ethpandaops/crateroor/pkg/report"
	"github.com/ethpandaops/crateroor/pkg/resultstore"
	"github.com/ethpandaops/crateroor/pkg/toolchain"
)

// maxBodySize bounds request bodies on write endpoints.
const maxBodySize = 64 << 10

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListToolchains returns every toolchain with recorded results.
func (s *server) handleListToolchains(w http.ResponseWriter, r *http.Request) {
	toolchains, err := s.store.ListToolchains(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list toolchains")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"toolchains": toolchains})
}

// handleWeeklyReport builds the weekly report for the date query
// parameter, defaulting to today (UTC).
func (s *server) handleWeeklyReport(w http.ResponseWriter, r *http.Request) {
	date := toolchain.DateOf(time.Now())

	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := toolchain.ParseDate(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"invalid date, expected YYYY-MM-DD"})

			return
		}

		date = parsed
	}

	format := r.URL.Query().Get("format")
	if format != "" && format != "json" && format != "markdown" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"unsupported format"})

		return
	}

	rep, err := s.reports.Build(r.Context(), date)
	if err != nil {
		s.log.WithError(err).WithField("date", date.String()).
			Error("Failed to build weekly report")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	if format == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(report.RenderMarkdown(rep)))

		return
	}

	writeJSON(w, http.StatusOK, rep)
}

// handleGetResult returns a single build result.
func (s *server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	tc, err := toolchain.Parse(chi.URLParam(r, "toolchain"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid toolchain"})

		return
	}

	result, err := s.store.GetResult(r.Context(), resultstore.Key{
		Toolchain: tc,
		CrateName: chi.URLParam(r, "crate"),
		CrateVers: chi.URLParam(r, "version"),
	})
	if err != nil {
		s.log.WithError(err).Error("Failed to get build result")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	if result == nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"result not found"})

		return
	}

	writeJSON(w, http.StatusOK, result)
}

type diffResponse struct {
	From     toolchain.Toolchain    `json:"from"`
	To       toolchain.Toolchain    `json:"to"`
	Summary  analysis.Summary       `json:"summary"`
	Statuses []analysis.CrateStatus `json:"statuses"`
}

// handleDiff classifies every crate built with both toolchains.
func (s *server) handleDiff(w http.ResponseWriter, r *http.Request) {
	from, err := toolchain.Parse(r.URL.Query().Get("from"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid from toolchain"})

		return
	}

	to, err := toolchain.Parse(r.URL.Query().Get("to"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid to toolchain"})

		return
	}

	pairs, err := s.store.ResultPairs(r.Context(), from, to)
	if err != nil {
		s.log.WithError(err).Error("Failed to list result pairs")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	statuses := analysis.ClassifyPairs(pairs)

	writeJSON(w, http.StatusOK, diffResponse{
		From:     from,
		To:       to,
		Summary:  analysis.Summarize(statuses),
		Statuses: statuses,
	})
}

// handlePutResult records a build result.
func (s *server) handlePutResult(w http.ResponseWriter, r *http.Request) {
	var rec ingest.Record

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).
		Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	result, err := rec.BuildResult()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if err := s.store.UpsertResult(r.Context(), result); err != nil {
		s.log.WithError(err).Error("Failed to record build result")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, result)
}
