package resultstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/ethpandaops/crateroor/pkg/config"
	"github.com/ethpandaops/crateroor/pkg/toolchain"
)

// Error categories returned by the store. Use errors.Is to test for them.
var (
	ErrConnection  = errors.New("result store connection failed")
	ErrSchema      = errors.New("result store schema operation failed")
	ErrQuery       = errors.New("result store query failed")
	ErrTransaction = errors.New("result store transaction failed")
)

// Store persists build results keyed by toolchain, crate name and version.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// DropSchema removes the results table. Intended for test teardown.
	DropSchema(ctx context.Context) error

	UpsertResult(ctx context.Context, result *BuildResult) error
	GetResult(ctx context.Context, key Key) (*BuildResult, error)
	ResultPairs(
		ctx context.Context, from, to toolchain.Toolchain,
	) ([]ResultPair, error)
	ListToolchains(ctx context.Context) ([]toolchain.Toolchain, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "resultstore"),
		cfg: cfg,
	}
}

// Start opens the database connection and ensures the results table
// exists. It is safe to call against an already migrated database.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("%w: unsupported database driver: %s",
			ErrConnection, s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("%w: opening database: %w", ErrConnection, err)
	}

	s.db = db

	if s.cfg.Driver == "sqlite" {
		// SQLite has a single writer, and each connection to :memory:
		// would otherwise see its own empty database.
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("%w: getting underlying db: %w", ErrConnection, err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(&resultRow{}); err != nil {
		return fmt.Errorf("%w: running migrations: %w", ErrSchema, err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Result store connected")

	return nil
}

// Stop closes the underlying database connection. It is a no-op when the
// store was never started.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	s.db = nil

	return sqlDB.Close()
}

// conn returns the open database handle, or ErrConnection when the store
// is not started.
func (s *store) conn(ctx context.Context) (*gorm.DB, error) {
	if s.db == nil {
		return nil, fmt.Errorf("%w: store not started", ErrConnection)
	}

	return s.db.WithContext(ctx), nil
}

// DropSchema drops the results table if it exists.
func (s *store) DropSchema(ctx context.Context) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	if err := db.Migrator().DropTable(&resultRow{}); err != nil {
		return fmt.Errorf("%w: dropping results table: %w", ErrSchema, err)
	}

	s.log.Info("Result store schema dropped")

	return nil
}

// UpsertResult inserts the result or overwrites success and task id of the
// existing row for its key. The lookup and the write share one
// transaction, and the transaction is rolled back on any failure.
func (s *store) UpsertResult(ctx context.Context, result *BuildResult) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	row := newResultRow(result)

	tx := db.Begin()
	if tx.Error != nil {
		return fmt.Errorf("%w: beginning upsert: %w", ErrTransaction, tx.Error)
	}

	if err := upsertRow(tx, row); err != nil {
		s.rollback(tx, row)

		return err
	}

	if err := tx.Commit().Error; err != nil {
		s.rollback(tx, row)

		return fmt.Errorf("%w: committing upsert: %w", ErrTransaction, err)
	}

	s.log.WithFields(logrus.Fields{
		"toolchain": row.Toolchain,
		"crate":     row.CrateName + "@" + row.CrateVers,
		"success":   row.Success,
	}).Debug("Upserted build result")

	return nil
}

func (s *store) rollback(tx *gorm.DB, row *resultRow) {
	err := tx.Rollback().Error
	if err == nil || errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, sql.ErrTxDone) {
		return
	}

	s.log.WithError(err).WithFields(logrus.Fields{
		"toolchain": row.Toolchain,
		"crate":     row.CrateName + "@" + row.CrateVers,
	}).Warn("Failed to roll back upsert")
}

func upsertRow(tx *gorm.DB, row *resultRow) error {
	var existing resultRow

	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("toolchain = ? AND crate_name = ? AND crate_vers = ?",
			row.Toolchain, row.CrateName, row.CrateVers).
		Take(&existing).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		// A concurrent writer may insert the key between our lookup and
		// this insert; the conflict clause turns that into an update.
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "toolchain"},
				{Name: "crate_name"},
				{Name: "crate_vers"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"success", "task_id"}),
		}).Create(row).Error; err != nil {
			return fmt.Errorf("%w: inserting build result: %w", ErrQuery, err)
		}
	case err != nil:
		return fmt.Errorf("%w: looking up build result: %w", ErrQuery, err)
	default:
		if err := tx.Model(&resultRow{}).
			Where("toolchain = ? AND crate_name = ? AND crate_vers = ?",
				row.Toolchain, row.CrateName, row.CrateVers).
			Updates(map[string]any{
				"success": row.Success,
				"task_id": row.TaskID,
			}).Error; err != nil {
			return fmt.Errorf("%w: updating build result: %w", ErrQuery, err)
		}
	}

	return nil
}

// GetResult returns the result for key, or nil when none is recorded.
func (s *store) GetResult(ctx context.Context, key Key) (*BuildResult, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var row resultRow

	err = db.
		Where("toolchain = ? AND crate_name = ? AND crate_vers = ?",
			key.Toolchain.String(), key.CrateName, key.CrateVers).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w: getting build result: %w", ErrQuery, err)
	}

	return row.toBuildResult()
}

// ResultPairs joins the results of two toolchains on crate name and
// version. Crates built with only one of the toolchains are omitted. The
// pairs are ordered by crate name, then version.
func (s *store) ResultPairs(
	ctx context.Context, from, to toolchain.Toolchain,
) ([]ResultPair, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var rows []pairRow

	if err := db.
		Table("build_results AS a").
		Select("a.crate_name, a.crate_vers, "+
			"a.success AS from_success, b.success AS to_success, "+
			"a.task_id AS from_task_id, b.task_id AS to_task_id").
		Joins("JOIN build_results AS b "+
			"ON a.crate_name = b.crate_name AND a.crate_vers = b.crate_vers").
		Where("a.toolchain = ? AND b.toolchain = ?", from.String(), to.String()).
		Order("a.crate_name ASC, a.crate_vers ASC").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: listing result pairs: %w", ErrQuery, err)
	}

	pairs := make([]ResultPair, 0, len(rows))
	for i := range rows {
		pairs = append(pairs, rows[i].toResultPair())
	}

	s.log.WithFields(logrus.Fields{
		"from":  from.String(),
		"to":    to.String(),
		"pairs": len(pairs),
	}).Debug("Listed result pairs")

	return pairs, nil
}

// ListToolchains returns every toolchain with at least one recorded
// result, ordered by encoded name.
func (s *store) ListToolchains(ctx context.Context) ([]toolchain.Toolchain, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var names []string

	if err := db.
		Model(&resultRow{}).
		Distinct("toolchain").
		Order("toolchain ASC").
		Pluck("toolchain", &names).Error; err != nil {
		return nil, fmt.Errorf("%w: listing toolchains: %w", ErrQuery, err)
	}

	toolchains := make([]toolchain.Toolchain, 0, len(names))

	for _, name := range names {
		tc, err := toolchain.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("%w: stored toolchain: %w", ErrQuery, err)
		}

		toolchains = append(toolchains, tc)
	}

	return toolchains, nil
}
