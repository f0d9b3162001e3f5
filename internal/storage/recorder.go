package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/micro-ha/switchbot-cloud/internal/coordinator"
	"github.com/micro-ha/switchbot-cloud/internal/model"
	"github.com/micro-ha/switchbot-cloud/internal/pkg/utils"
)

const recordTimeout = 5 * time.Second

// Recorder persists every coordinator update as the device's last snapshot.
type Recorder struct {
	repo   *Repository
	logger *slog.Logger
}

func NewRecorder(repo *Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, logger: logger}
}

// Attach subscribes to c and returns the unsubscribe function.
func (r *Recorder) Attach(c *coordinator.Coordinator) func() {
	return c.Subscribe(r.record)
}

func (r *Recorder) record(device model.Device, data model.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	err := r.repo.UpsertSnapshot(ctx, model.SnapshotRecord{
		DeviceID:   device.ID,
		DeviceType: device.Type,
		Data:       data,
		UpdatedAt:  utils.NowUTC(),
	})
	if err != nil {
		r.logger.Warn("persist snapshot failed", "device_id", device.ID, "err", err)
	}
}
