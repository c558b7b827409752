package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

var ErrTaskNotFound = errors.New("task not found")

func CreateTask(ctx context.Context, txn *gorm.DB, userId int64, modelName, inputData string) (*MLTask, error) {
	now := time.Now().UTC()
	task := MLTask{
		UserId:    userId,
		ModelName: modelName,
		InputData: inputData,
		Status:    TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := txn.WithContext(ctx).Create(&task).Error; err != nil {
		slog.Error("error creating task", "user_id", userId, "error", err)
		return nil, fmt.Errorf("error creating task: %w", err)
	}
	return &task, nil
}

func GetTask(ctx context.Context, txn *gorm.DB, taskId int64) (*MLTask, error) {
	var task MLTask
	if err := txn.WithContext(ctx).First(&task, "id = ?", taskId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("error loading task %d: %w", taskId, err)
	}
	return &task, nil
}

// ClaimTask is the PENDING -> PROCESSING transition, performed as a single
// conditional update so that two deliveries racing for the same task cannot
// both claim it. Returns false if the task was not in PENDING.
func ClaimTask(ctx context.Context, txn *gorm.DB, taskId int64) (bool, error) {
	res := txn.WithContext(ctx).
		Model(&MLTask{}).
		Where("id = ? AND status = ?", taskId, TaskPending).
		Updates(map[string]any{
			"status":     TaskProcessing,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		slog.Error("error claiming task", "task_id", taskId, "error", res.Error)
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func FailTask(ctx context.Context, txn *gorm.DB, taskId int64) error {
	// completed_at is stamped only on DONE, never on FAILED.
	updates := map[string]any{
		"status":     TaskFailed,
		"updated_at": time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Model(&MLTask{Id: taskId}).Updates(updates).Error; err != nil {
		slog.Error("error updating task status", "task_id", taskId, "status", TaskFailed, "error", err)
		return err
	}
	return nil
}

// CompleteTask writes the prediction and the terminal DONE transition in one
// transaction, keeping the invariant that result_id is set iff the task is
// DONE.
func CompleteTask(ctx context.Context, txn *gorm.DB, task *MLTask, prediction *Prediction) error {
	return txn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(prediction).Error; err != nil {
			slog.Error("error saving prediction", "task_id", task.Id, "error", err)
			return fmt.Errorf("error saving prediction: %w", err)
		}

		now := time.Now().UTC()
		updates := map[string]any{
			"status":       TaskDone,
			"result_id":    sql.NullInt64{Int64: prediction.Id, Valid: true},
			"updated_at":   now,
			"completed_at": sql.NullTime{Time: now, Valid: true},
		}
		if err := tx.Model(&MLTask{Id: task.Id}).Updates(updates).Error; err != nil {
			slog.Error("error updating task status", "task_id", task.Id, "status", TaskDone, "error", err)
			return fmt.Errorf("error completing task %d: %w", task.Id, err)
		}
		return nil
	})
}

func ListTasksByUser(ctx context.Context, txn *gorm.DB, userId int64) ([]MLTask, error) {
	var tasks []MLTask
	if err := txn.WithContext(ctx).
		Where("user_id = ?", userId).
		Order("created_at asc").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("error listing tasks for user %d: %w", userId, err)
	}
	return tasks, nil
}
