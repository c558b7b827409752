package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	backend "talkrec-backend/internal/api"
	"talkrec-backend/internal/auth"
	"talkrec-backend/internal/database"
	"talkrec-backend/internal/messaging"
	"talkrec-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, database.GetMigrator(db).Migrate())

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

type testEnv struct {
	router chi.Router
	queue  *messaging.InMemoryQueue
	tokens *auth.TokenIssuer
}

func createTestEnv(t *testing.T, db *gorm.DB) testEnv {
	t.Helper()

	queue := messaging.NewInMemoryQueue()
	tokens := auth.NewTokenIssuer("test-secret", 0)

	service := backend.NewBackendService(db, queue, tokens)
	router := chi.NewRouter()
	service.AddRoutes(router)

	return testEnv{router: router, queue: queue, tokens: tokens}
}

func (env testEnv) request(t *testing.T, method, endpoint string, payload any, userId int64) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, endpoint, body)
	if userId != 0 {
		token, err := env.tokens.CreateToken(userId)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestSignupAndSignin(t *testing.T) {
	db := createDB(t)
	env := createTestEnv(t, db)

	rec := env.request(t, http.MethodPost, "/users/signup", api.SignupRequest{Email: "user@test.com", Password: "password123"}, 0)
	require.Equal(t, http.StatusOK, rec.Code)

	t.Run("DuplicateEmail", func(t *testing.T) {
		rec := env.request(t, http.MethodPost, "/users/signup", api.SignupRequest{Email: "user@test.com", Password: "password123"}, 0)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("InvalidEmail", func(t *testing.T) {
		rec := env.request(t, http.MethodPost, "/users/signup", api.SignupRequest{Email: "not-an-email", Password: "password123"}, 0)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("ShortPassword", func(t *testing.T) {
		rec := env.request(t, http.MethodPost, "/users/signup", api.SignupRequest{Email: "other@test.com", Password: "short"}, 0)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		rec := env.request(t, http.MethodPost, "/users/signin", api.SigninRequest{Email: "nobody@test.com", Password: "password123"}, 0)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("WrongPassword", func(t *testing.T) {
		rec := env.request(t, http.MethodPost, "/users/signin", api.SigninRequest{Email: "user@test.com", Password: "wrongpassword"}, 0)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	var signin api.SigninResponse
	rec = env.request(t, http.MethodPost, "/users/signin", api.SigninRequest{Email: "user@test.com", Password: "password123"}, 0)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &signin))
	require.NotEmpty(t, signin.AccessToken)

	t.Run("CurrentUser", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
		req.Header.Set("Authorization", "Bearer "+signin.AccessToken)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var user api.UserResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
		assert.Equal(t, "user@test.com", user.Email)
	})
}

func TestSubmitTask(t *testing.T) {
	db := createDB(t, &database.User{Id: 1, Email: "user@test.com", PasswordHash: "x"})
	env := createTestEnv(t, db)

	rec := env.request(t, http.MethodPost, "/ml/tasks", api.TaskRequest{
		ModelName: "jug_recommender",
		InputData: "distributed systems and jvm performance",
	}, 1)
	require.Equal(t, http.StatusOK, rec.Code)

	var response api.TaskSubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "Task sent to ML workers", response.Message)
	require.NotZero(t, response.TaskId)

	task, err := database.GetTask(context.Background(), db, response.TaskId)
	require.NoError(t, err)
	assert.Equal(t, database.TaskPending, task.Status)
	assert.Equal(t, int64(1), task.UserId)

	// The message on the queue must reference the persisted row.
	select {
	case queued := <-env.queue.Tasks():
		assert.Equal(t, messaging.MLTaskQueue, queued.Type())

		var payload messaging.MLTaskPayload
		require.NoError(t, json.Unmarshal(queued.Payload(), &payload))
		assert.Equal(t, messaging.MLTaskPayload{
			TaskId:    response.TaskId,
			UserId:    1,
			ModelName: "jug_recommender",
			InputData: "distributed systems and jvm performance",
		}, payload)
	default:
		t.Fatal("no task was published")
	}
}

func TestSubmitTaskValidation(t *testing.T) {
	tests := []struct {
		name    string
		request api.TaskRequest
	}{
		{"EmptyInput", api.TaskRequest{ModelName: "jug_recommender", InputData: ""}},
		{"WhitespaceInput", api.TaskRequest{ModelName: "jug_recommender", InputData: "   \t\n"}},
		{"TooLongInput", api.TaskRequest{ModelName: "jug_recommender", InputData: strings.Repeat("a", 1001)}},
		{"UnknownModel", api.TaskRequest{ModelName: "other_model", InputData: "valid input"}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			db := createDB(t, &database.User{Id: 1, Email: "user@test.com", PasswordHash: "x"})
			env := createTestEnv(t, db)

			rec := env.request(t, http.MethodPost, "/ml/tasks", test.request, 1)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			// Rejected requests must not leave a task row behind.
			var count int64
			require.NoError(t, db.Model(&database.MLTask{}).Count(&count).Error)
			assert.Zero(t, count)
		})
	}

	t.Run("MaxLengthInputAccepted", func(t *testing.T) {
		db := createDB(t, &database.User{Id: 1, Email: "user@test.com", PasswordHash: "x"})
		env := createTestEnv(t, db)

		rec := env.request(t, http.MethodPost, "/ml/tasks", api.TaskRequest{
			ModelName: "jug_recommender",
			InputData: strings.Repeat("a", 1000),
		}, 1)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

type failingPublisher struct{}

func (p *failingPublisher) PublishMLTask(ctx context.Context, payload messaging.MLTaskPayload) error {
	return errors.New("broker unavailable")
}

func (p *failingPublisher) Close() {}

func TestSubmitTaskPublishFailure(t *testing.T) {
	db := createDB(t, &database.User{Id: 1, Email: "user@test.com", PasswordHash: "x"})

	tokens := auth.NewTokenIssuer("test-secret", 0)
	service := backend.NewBackendService(db, &failingPublisher{}, tokens)
	router := chi.NewRouter()
	service.AddRoutes(router)

	token, err := tokens.CreateToken(1)
	require.NoError(t, err)

	body, err := json.Marshal(api.TaskRequest{ModelName: "jug_recommender", InputData: "jvm internals"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/ml/tasks", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// The row was written before the publish failed, so the caller must see
	// the failure rather than a task id no worker will ever pick up.
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to send task to worker")

	var tasks []database.MLTask
	require.NoError(t, db.Find(&tasks).Error)
	require.Len(t, tasks, 1)
	assert.Equal(t, database.TaskPending, tasks[0].Status)
}

func TestSubmitTaskRequiresAuth(t *testing.T) {
	db := createDB(t)
	env := createTestEnv(t, db)

	rec := env.request(t, http.MethodPost, "/ml/tasks", api.TaskRequest{ModelName: "jug_recommender", InputData: "x"}, 0)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetTaskStatus(t *testing.T) {
	now := time.Now().UTC()
	db := createDB(t,
		&database.User{Id: 1, Email: "user@test.com", PasswordHash: "x"},
		&database.User{Id: 2, Email: "other@test.com", PasswordHash: "x"},
		&database.Prediction{Id: 5, UserId: 1, ModelName: "jug_recommender", Result: "1. [JVM] Talk — Speaker (Conf)", CreatedAt: now},
		&database.MLTask{Id: 10, UserId: 1, ModelName: "jug_recommender", InputData: "jvm", Status: database.TaskPending},
		&database.MLTask{
			Id: 11, UserId: 1, ModelName: "jug_recommender", InputData: "jvm", Status: database.TaskDone,
			ResultId: sql.NullInt64{Int64: 5, Valid: true}, CompletedAt: sql.NullTime{Time: now, Valid: true},
		},
	)
	env := createTestEnv(t, db)

	t.Run("Pending", func(t *testing.T) {
		rec := env.request(t, http.MethodGet, "/ml/tasks/10", nil, 1)
		require.Equal(t, http.StatusOK, rec.Code)

		var status api.TaskStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, string(database.TaskPending), status.Status)
		assert.Empty(t, status.Result)
	})

	t.Run("Done", func(t *testing.T) {
		rec := env.request(t, http.MethodGet, "/ml/tasks/11", nil, 1)
		require.Equal(t, http.StatusOK, rec.Code)

		var status api.TaskStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, string(database.TaskDone), status.Status)
		assert.Equal(t, "1. [JVM] Talk — Speaker (Conf)", status.Result)
	})

	t.Run("OtherUsersTask", func(t *testing.T) {
		rec := env.request(t, http.MethodGet, "/ml/tasks/10", nil, 2)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("MissingTask", func(t *testing.T) {
		rec := env.request(t, http.MethodGet, "/ml/tasks/999", nil, 1)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("UnrecognizedStatus", func(t *testing.T) {
		require.NoError(t, db.Create(&database.MLTask{
			Id: 12, UserId: 1, ModelName: "jug_recommender", InputData: "jvm", Status: "ARCHIVED",
		}).Error)

		rec := env.request(t, http.MethodGet, "/ml/tasks/12", nil, 1)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestGetTaskHistory(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	db := createDB(t,
		&database.User{Id: 1, Email: "user@test.com", PasswordHash: "x"},
		&database.User{Id: 2, Email: "other@test.com", PasswordHash: "x"},
		&database.Prediction{Id: 5, UserId: 1, ModelName: "jug_recommender", Result: "ranked talks", CreatedAt: base},
		&database.MLTask{
			Id: 10, UserId: 1, ModelName: "jug_recommender", InputData: "first", Status: database.TaskDone,
			CreatedAt: base, ResultId: sql.NullInt64{Int64: 5, Valid: true},
		},
		&database.MLTask{Id: 11, UserId: 1, ModelName: "jug_recommender", InputData: "second", Status: database.TaskFailed, CreatedAt: base.Add(time.Hour)},
		&database.MLTask{Id: 12, UserId: 1, ModelName: "jug_recommender", InputData: "third", Status: database.TaskPending, CreatedAt: base.Add(2 * time.Hour)},
		&database.MLTask{Id: 13, UserId: 2, ModelName: "jug_recommender", InputData: "not mine", Status: database.TaskPending, CreatedAt: base},
	)
	env := createTestEnv(t, db)

	rec := env.request(t, http.MethodGet, "/ml/tasks", nil, 1)
	require.Equal(t, http.StatusOK, rec.Code)

	var history []api.TaskHistoryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 3)

	// Oldest first, and only user 1's tasks.
	assert.Equal(t, int64(10), history[0].Id)
	assert.Equal(t, int64(11), history[1].Id)
	assert.Equal(t, int64(12), history[2].Id)

	assert.Equal(t, "ranked talks", history[0].PredictionResult)
	assert.Equal(t, "Task finished with an error", history[1].PredictionResult)
	assert.Equal(t, "Result is being processed...", history[2].PredictionResult)
}

func TestListPredictions(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	db := createDB(t,
		&database.User{Id: 1, Email: "user@test.com", PasswordHash: "x"},
		&database.Prediction{Id: 5, UserId: 1, ModelName: "jug_recommender", Result: "older", CreatedAt: base},
		&database.Prediction{Id: 6, UserId: 1, ModelName: "jug_recommender", Result: "newer", CreatedAt: base.Add(time.Hour)},
	)
	env := createTestEnv(t, db)

	rec := env.request(t, http.MethodGet, "/predictions", nil, 1)
	require.Equal(t, http.StatusOK, rec.Code)

	var predictions []api.Prediction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &predictions))
	require.Len(t, predictions, 2)
	assert.Equal(t, "newer", predictions[0].Result)
	assert.Equal(t, "older", predictions[1].Result)

	t.Run("Limit", func(t *testing.T) {
		rec := env.request(t, http.MethodGet, "/predictions?limit=1", nil, 1)
		require.Equal(t, http.StatusOK, rec.Code)

		var limited []api.Prediction
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &limited))
		require.Len(t, limited, 1)
		assert.Equal(t, "newer", limited[0].Result)
	})
}
