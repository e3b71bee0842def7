package database

import (
	"context"
	"fmt"
	"time"

	"seasonbook/internal/models"
)

func (db *DB) CreatePostActionTask(ctx context.Context, task *models.PostActionTask) error {
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx,
		`INSERT INTO post_action_queue (action, season_id, school_id, booking_id, payload, status, retry_count, last_error, created_at, next_retry_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.Action, task.SeasonID, task.SchoolID, task.BookingID, task.Payload, task.Status,
		task.RetryCount, task.LastError, now, nullTime(task.NextRetryAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create post action task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now
	return nil
}

// GetPendingPostActionTasks returns due tasks, oldest first.
func (db *DB) GetPendingPostActionTasks(ctx context.Context, limit int) ([]models.PostActionTask, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, action, season_id, school_id, booking_id, payload, status, retry_count, last_error,
            created_at, processed_at, next_retry_at
         FROM post_action_queue
         WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
         ORDER BY created_at ASC, id ASC LIMIT ?`,
		models.TaskStatusPending, models.TaskStatusRetry, time.Now().UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending post action tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.PostActionTask
	for rows.Next() {
		var t models.PostActionTask
		err := rows.Scan(&t.ID, &t.Action, &t.SeasonID, &t.SchoolID, &t.BookingID, &t.Payload, &t.Status,
			&t.RetryCount, &t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post action task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (db *DB) UpdatePostActionTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var (
		query string
		args  []interface{}
	)
	now := time.Now().UTC()

	switch status {
	case models.TaskStatusRetry:
		query = `UPDATE post_action_queue SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, errMsg, nullTime(nextRetryAt), id}
	case models.TaskStatusCompleted, models.TaskStatusFailed:
		query = `UPDATE post_action_queue SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []interface{}{status, errMsg, nullTime(nextRetryAt), now, id}
	default:
		query = `UPDATE post_action_queue SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, errMsg, nullTime(nextRetryAt), id}
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update post action task status: %w", err)
	}
	return nil
}
