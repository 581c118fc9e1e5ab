// Package storage implements database-backed run persistence using GORM.
// SQLite (pure Go, no CGO, via the glebarez driver) is the default;
// PostgreSQL is available for shared deployments. All GORM usage is
// confined to this package — orchestrator types remain ORM-free.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/autodata-labs/autodata/internal/orchestrator"
)

// Driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config configures the persistence backend.
type Config struct {
	Driver string // "sqlite" (default) or "postgres".

	// SQLite.
	Path string // Database file path.

	// PostgreSQL.
	DSN             string
	MaxOpenConns    int           // Default: 25
	MaxIdleConns    int           // Default: 5
	ConnMaxLifetime time.Duration // Default: 30m
}

func (c Config) driver() string {
	if c.Driver != "" {
		return c.Driver
	}
	return DriverSQLite
}

func (c Config) maxOpen() int {
	if c.MaxOpenConns > 0 {
		return c.MaxOpenConns
	}
	return 25
}

func (c Config) maxIdle() int {
	if c.MaxIdleConns > 0 {
		return c.MaxIdleConns
	}
	return 5
}

func (c Config) maxLifetime() time.Duration {
	if c.ConnMaxLifetime > 0 {
		return c.ConnMaxLifetime
	}
	return 30 * time.Minute
}

// Store implements orchestrator.RunStore over a GORM database.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	driver string
}

// Open connects to the configured backend, runs migrations, and returns the
// store.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	if slogger == nil {
		slogger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
	gormCfg := &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	var db *gorm.DB
	var err error
	switch cfg.driver() {
	case DriverSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite path is required")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		dsn := fmt.Sprintf("%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.Path)
		db, err = gorm.Open(sqlite.Open(dsn), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite database: %w", err)
		}

	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres DSN is required")
		}
		db, err = gorm.Open(postgres.Open(cfg.DSN), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(cfg.maxOpen())
		sqlDB.SetMaxIdleConns(cfg.maxIdle())
		sqlDB.SetConnMaxLifetime(cfg.maxLifetime())

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}

	if err := db.AutoMigrate(&RunModel{}, &EnvelopeModel{}, &ArtifactModel{}); err != nil {
		return nil, fmt.Errorf("auto-migrating: %w", err)
	}

	slogger.Info("run store opened", slog.String("driver", cfg.driver()))
	return &Store{db: db, logger: slogger, driver: cfg.driver()}, nil
}

// Driver returns the active driver name.
func (s *Store) Driver() string { return s.driver }

// Ping checks the database connection for health probes.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) CreateRun(ctx context.Context, run *orchestrator.RunRecord) error {
	if err := s.db.WithContext(ctx).Create(toRunModel(run)).Error; err != nil {
		return fmt.Errorf("creating run %s: %w", run.ID, err)
	}
	return nil
}

func (s *Store) UpdateRun(ctx context.Context, run *orchestrator.RunRecord) error {
	tx := s.db.WithContext(ctx).Model(&RunModel{}).Where("id = ?", run.ID).Updates(map[string]any{
		"status":       string(run.Status),
		"error":        run.Error,
		"updated_at":   time.Now().UTC(),
		"completed_at": run.CompletedAt,
	})
	if tx.Error != nil {
		return fmt.Errorf("updating run %s: %w", run.ID, tx.Error)
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*orchestrator.RunRecord, error) {
	var m RunModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("run %s not found", id)
		}
		return nil, fmt.Errorf("getting run %s: %w", id, err)
	}
	return fromRunModel(&m), nil
}

func (s *Store) AppendEnvelope(ctx context.Context, env *orchestrator.Envelope) error {
	if err := s.db.WithContext(ctx).Create(toEnvelopeModel(env)).Error; err != nil {
		return fmt.Errorf("appending envelope %s: %w", env.ID, err)
	}
	return nil
}

func (s *Store) ListEnvelopes(ctx context.Context, runID uuid.UUID) ([]orchestrator.Envelope, error) {
	var models []EnvelopeModel
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("seq ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing envelopes for run %s: %w", runID, err)
	}
	out := make([]orchestrator.Envelope, 0, len(models))
	for i := range models {
		out = append(out, fromEnvelopeModel(&models[i]))
	}
	return out, nil
}

func (s *Store) SaveArtifact(ctx context.Context, runID uuid.UUID, artifact *orchestrator.ParsedArtifact) error {
	m := &ArtifactModel{
		RunID:   runID,
		Name:    artifact.Name,
		Payload: string(artifact.Raw),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(m).Error
	if err != nil {
		return fmt.Errorf("saving artifact %s for run %s: %w", artifact.Name, runID, err)
	}
	return nil
}

func (s *Store) ListArtifacts(ctx context.Context, runID uuid.UUID) (map[string]json.RawMessage, error) {
	var models []ArtifactModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing artifacts for run %s: %w", runID, err)
	}
	out := make(map[string]json.RawMessage, len(models))
	for _, m := range models {
		out[m.Name] = json.RawMessage(m.Payload)
	}
	return out, nil
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}

// compile-time interface check
var _ orchestrator.RunStore = (*Store)(nil)
