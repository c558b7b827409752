package messaging

import (
	"context"
	"time"
)

const (
	MLTaskQueue     = "ml_task"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	// Nack requests redelivery of the message. Use for transient failures
	// where reprocessing may succeed.
	Nack() error

	// Reject discards the message without redelivery.
	Reject() error
}

// MLTaskPayload is the wire schema for the ml_task queue. The json field
// names are part of the queue contract shared with other producers, do not
// rename them.
type MLTaskPayload struct {
	TaskId    int64  `json:"task_id"`
	UserId    int64  `json:"user_id"`
	ModelName string `json:"model_name"`
	InputData string `json:"input_data"`
}

type Publisher interface {
	PublishMLTask(ctx context.Context, payload MLTaskPayload) error

	Close()
}

type Receiver interface {
	Tasks() <-chan Task

	Close()
}
