package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/micro-ha/switchbot-cloud/internal/model"
	"github.com/micro-ha/switchbot-cloud/internal/pkg/utils"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

func (r *Repository) LoadEntry(ctx context.Context, entryID string) (model.Entry, error) {
	var (
		entry                model.Entry
		webhookID            sql.NullString
		createdAt, updatedAt string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT entry_id, title, webhook_id, created_at, updated_at
		FROM entries WHERE entry_id = ?`, entryID).
		Scan(&entry.ID, &entry.Title, &webhookID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Entry{}, ErrNotFound
	}
	if err != nil {
		return model.Entry{}, err
	}
	entry.WebhookID = nullString(webhookID)
	entry.CreatedAt = parseTime(createdAt)
	entry.UpdatedAt = parseTime(updatedAt)
	return entry, nil
}

// CreateEntry inserts a new entry and returns ErrConflict if the id is taken.
func (r *Repository) CreateEntry(ctx context.Context, entry model.Entry) error {
	now := utils.NowUTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = now
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entries (entry_id, title, webhook_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.Title, toNullable(entry.WebhookID), formatTime(entry.CreatedAt), formatTime(entry.UpdatedAt))
	if utils.IsUniqueConstraintError(err) {
		return fmt.Errorf("entry %s: %w", entry.ID, ErrConflict)
	}
	return err
}

func (r *Repository) SaveEntry(ctx context.Context, entry model.Entry) error {
	now := utils.NowUTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = now
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entries (entry_id, title, webhook_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entry_id) DO UPDATE SET
			title=excluded.title,
			webhook_id=excluded.webhook_id,
			updated_at=excluded.updated_at`,
		entry.ID, entry.Title, toNullable(entry.WebhookID), formatTime(entry.CreatedAt), formatTime(entry.UpdatedAt))
	return err
}

func (r *Repository) UpsertSnapshot(ctx context.Context, record model.SnapshotRecord) error {
	data := record.Data
	if data == nil {
		data = model.Snapshot{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", record.DeviceID, err)
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = utils.NowUTC()
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO device_snapshots (device_id, device_type, data_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			device_type=excluded.device_type,
			data_json=excluded.data_json,
			updated_at=excluded.updated_at`,
		record.DeviceID, record.DeviceType, string(raw), formatTime(record.UpdatedAt))
	return err
}

// ListSnapshots returns every stored snapshot ordered by device id.
func (r *Repository) ListSnapshots(ctx context.Context) ([]model.SnapshotRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT device_id, device_type, data_json, updated_at
		FROM device_snapshots ORDER BY device_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SnapshotRecord
	for rows.Next() {
		var (
			record             model.SnapshotRecord
			dataJSON, updateAt string
		)
		if err := rows.Scan(&record.DeviceID, &record.DeviceType, &dataJSON, &updateAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(dataJSON), &record.Data); err != nil {
			r.logger.Warn("skip corrupt snapshot", "device_id", record.DeviceID, "err", err)
			continue
		}
		record.UpdatedAt = parseTime(updateAt)
		out = append(out, record)
	}
	return out, rows.Err()
}
