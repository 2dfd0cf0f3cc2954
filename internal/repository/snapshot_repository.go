package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pbeaudequin/exporter-meteo-chamois/internal/models"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/database"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/logging"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/metrics"
)

// SnapshotRepository persists the last valid reading of a station
type SnapshotRepository interface {
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
	GetSnapshot(ctx context.Context, station string) (*Snapshot, error)
	HealthCheck(ctx context.Context) error
}

// Snapshot is the persisted copy of a cached reading
type Snapshot struct {
	Station  string
	Reading  *models.Reading
	CachedAt time.Time
}

type snapshotRow struct {
	Station   string `db:"station"`
	Payload   string `db:"payload"`
	CachedAt  int64  `db:"cached_at"`
	UpdatedAt int64  `db:"updated_at"`
}

// snapshotRepository implements SnapshotRepository
type snapshotRepository struct {
	db      *database.DB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	now     func() time.Time
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *database.DB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) SnapshotRepository {
	return &snapshotRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
		now:     time.Now,
	}
}

// SaveSnapshot upserts the snapshot row of the station
func (r *snapshotRepository) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	if snapshot == nil || snapshot.Reading == nil {
		return errors.New("snapshot has no reading")
	}
	if snapshot.Station == "" {
		return errors.New("snapshot has no station")
	}

	payload, err := json.Marshal(snapshot.Reading)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	query := r.db.Rebind(`
		INSERT INTO reading_snapshots (station, payload, cached_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (station) DO UPDATE SET
			payload = excluded.payload,
			cached_at = excluded.cached_at,
			updated_at = excluded.updated_at
	`)

	_, err = r.db.ExecContext(ctx, "upsert_snapshot", query,
		snapshot.Station,
		string(payload),
		snapshot.CachedAt.UnixMilli(),
		r.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_SAVE_SNAPSHOT] Snapshot saved", logging.Fields{
		"station":   snapshot.Station,
		"cached_at": snapshot.CachedAt.UTC().Format(time.RFC3339),
	})

	return nil
}

// GetSnapshot loads the snapshot of a station
func (r *snapshotRepository) GetSnapshot(ctx context.Context, station string) (*Snapshot, error) {
	query := r.db.Rebind(`
		SELECT station, payload, cached_at, updated_at
		FROM reading_snapshots
		WHERE station = ?
	`)

	var row snapshotRow
	err := r.db.GetContext(ctx, "get_snapshot", &row, query, station)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{
			Resource: "reading_snapshot",
			ID:       station,
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	reading := &models.Reading{}
	if err := json.Unmarshal([]byte(row.Payload), reading); err != nil {
		r.metrics.RecordDBError("decode_error")
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	return &Snapshot{
		Station:  row.Station,
		Reading:  reading,
		CachedAt: time.UnixMilli(row.CachedAt),
	}, nil
}

// HealthCheck checks database connectivity
func (r *snapshotRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}
