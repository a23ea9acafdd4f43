package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/crateroor/pkg/config"
	"github.com/ethpandaops/crateroor/pkg/report"
	"github.com/ethpandaops/crateroor/pkg/resultstore"
	"github.com/ethpandaops/crateroor/pkg/toolchain"
)

const defaultShutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// ReportBuilder computes weekly reports. *report.Builder satisfies it.
type ReportBuilder interface {
	Build(ctx context.Context, date toolchain.Date) (*report.WeeklyReport, error)
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.APIConfig
	store      resultstore.Store
	reports    ReportBuilder
	limiters   []*clientLimiters
	httpServer *http.Server
	wg         sync.WaitGroup
}

// NewServer creates a new API server. The store must already be started;
// its lifecycle is owned by the caller.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.APIConfig,
	store resultstore.Store,
	reports ReportBuilder,
) Server {
	return &server{
		log:     log.WithField("component", "api"),
		cfg:     cfg,
		store:   store,
		reports: reports,
	}
}

// Start builds the router and starts the HTTP server.
func (s *server) Start(_ context.Context) error {
	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", ln.Addr().String()).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	if s.httpServer != nil {
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	for _, l := range s.limiters {
		l.stop()
	}

	s.log.Info("API server stopped")

	return nil
}
