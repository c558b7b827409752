package messaging

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue(t *testing.T) {
	queue := NewInMemoryQueue()

	payload := MLTaskPayload{TaskId: 1, UserId: 2, ModelName: "jug_recommender", InputData: "jvm"}
	require.NoError(t, queue.PublishMLTask(context.Background(), payload))

	select {
	case task := <-queue.Tasks():
		assert.Equal(t, MLTaskQueue, task.Type())

		var received MLTaskPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &received))
		assert.Equal(t, payload, received)

		assert.NoError(t, task.Ack())
	default:
		t.Fatal("expected a task on the queue")
	}
}

func TestInMemoryQueueClose(t *testing.T) {
	queue := NewInMemoryQueue()
	tasks := queue.Tasks()

	queue.Close()
	queue.Close() // closing twice must not panic

	_, open := <-tasks
	assert.False(t, open)
}
