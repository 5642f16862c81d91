package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/bazaar-market/bazaar-admin/internal/jobs"
)

// CatalogSeeder inserts missing catalog permissions and invalidates cached snapshots.
type CatalogSeeder interface {
	SeedCatalog(ctx context.Context) (int, error)
}

// PermissionsReseedJob keeps the permissions table in step with the code catalog.
type PermissionsReseedJob struct {
	Seeder  CatalogSeeder
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewPermissionsReseedJob constructs the job handler.
func NewPermissionsReseedJob(seeder CatalogSeeder, logger *slog.Logger, metrics *jobmetrics.Metrics) *PermissionsReseedJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionsReseedJob{Seeder: seeder, Logger: logger, Metrics: metrics}
}

// Handle executes the reseed job.
func (j *PermissionsReseedJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Seeder == nil {
		return errors.New("permissions reseed job not configured")
	}
	var payload PermissionsReseedPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("decode reseed payload: %w: %w", err, asynq.SkipRetry)
		}
	}

	tracker := j.Metrics.Track("permissions_reseed")
	inserted, err := j.Seeder.SeedCatalog(ctx)
	if err != nil {
		j.Logger.Error("permissions reseed failed", slog.String("requested_by", payload.RequestedBy), slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.AddSeeded(inserted)
	j.Logger.Info("permissions reseeded",
		slog.String("requested_by", payload.RequestedBy),
		slog.Int("inserted", inserted),
	)
	return tracker.End(nil)
}
