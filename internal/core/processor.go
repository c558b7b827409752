package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"talkrec-backend/internal/database"
	"talkrec-backend/internal/messaging"

	"gorm.io/gorm"
)

// TaskProcessor drives the task state machine. It consumes one message at a
// time from the receiver; throughput is scaled by running more worker
// processes against the same queue.
type TaskProcessor struct {
	db       *gorm.DB
	receiver messaging.Receiver
	ranker   *Ranker
}

func NewTaskProcessor(db *gorm.DB, receiver messaging.Receiver, ranker *Ranker) *TaskProcessor {
	return &TaskProcessor{
		db:       db,
		receiver: receiver,
		ranker:   ranker,
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	for task := range proc.receiver.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.receiver.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	switch task.Type() {
	case messaging.MLTaskQueue:
		var payload messaging.MLTaskPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			// A payload this process can't decode points at a producer bug or
			// transport corruption; requeue rather than drop the task.
			slog.Error("error unmarshalling ml task", "error", err, "body", string(task.Payload()))
			if err := task.Nack(); err != nil {
				slog.Error("error requeueing message", "error", err)
			}
			return
		}

		if err := proc.processMLTask(ctx, payload); err != nil {
			slog.Error("transient error processing ml task, requeueing", "task_id", payload.TaskId, "error", err)
			if err := task.Nack(); err != nil {
				slog.Error("error requeueing message", "error", err)
			}
			return
		}

		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message", "task_id", payload.TaskId, "error", err)
		}

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
	}
}

// processMLTask runs the per-message state machine. A nil return means the
// delivery is settled (task DONE, FAILED, or a duplicate) and must be acked;
// a non-nil return means a transient fault and the message is requeued.
func (proc *TaskProcessor) processMLTask(ctx context.Context, payload messaging.MLTaskPayload) error {
	task, err := database.GetTask(ctx, proc.db, payload.TaskId)
	if err != nil {
		if errors.Is(err, database.ErrTaskNotFound) {
			// The producer's row may not be visible yet; let the broker retry.
			return fmt.Errorf("task %d not found: %w", payload.TaskId, err)
		}
		return err
	}

	// Idempotency guard: anything past PENDING has been picked up before.
	// A PROCESSING status here means a worker died mid-task; the task stays
	// stranded (no reclaim policy), so make it visible in the logs.
	if task.Status != database.TaskPending {
		slog.Warn("task already handled, skipping redelivery", "task_id", task.Id, "status", task.Status)
		return nil
	}

	claimed, err := database.ClaimTask(ctx, proc.db, task.Id)
	if err != nil {
		return err
	}
	if !claimed {
		slog.Warn("task claimed by another delivery, skipping", "task_id", task.Id)
		return nil
	}

	slog.Info("processing task", "task_id", task.Id, "user_id", payload.UserId, "model", payload.ModelName)

	input := strings.TrimSpace(payload.InputData)
	if input == "" {
		return proc.failTask(ctx, task, errors.New("empty input data"))
	}

	if _, err := database.GetUserById(ctx, proc.db, payload.UserId); err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return proc.failTask(ctx, task, fmt.Errorf("user %d not found", payload.UserId))
		}
		return err
	}

	recommendations, err := proc.ranker.Rank(ctx, input, DefaultTopK)
	if err != nil {
		if IsPermanent(err) {
			return proc.failTask(ctx, task, err)
		}
		return err
	}

	prediction := &database.Prediction{
		UserId:    payload.UserId,
		ModelName: payload.ModelName,
		Result:    FormatRecommendations(recommendations),
		CreatedAt: time.Now().UTC(),
	}

	if err := database.CompleteTask(ctx, proc.db, task, prediction); err != nil {
		return err
	}

	slog.Info("task completed", "task_id", task.Id, "prediction_id", prediction.Id)
	return nil
}

// failTask records a permanent failure. Returns nil so the message is acked;
// if even the status write fails the error propagates and the broker
// redelivers.
func (proc *TaskProcessor) failTask(ctx context.Context, task *database.MLTask, cause error) error {
	slog.Error("task failed", "task_id", task.Id, "error", cause)

	if err := database.FailTask(ctx, proc.db, task.Id); err != nil {
		return err
	}
	return nil
}
