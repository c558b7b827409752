package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"talkrec-backend/internal/auth"
	"talkrec-backend/internal/database"
	"talkrec-backend/internal/messaging"
	"talkrec-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

const maxInputLength = 1000

// SupportedModels is the allow-list checked at submission; requests for
// anything else are rejected before a task row is created.
var SupportedModels = []string{"jug_recommender"}

type BackendService struct {
	db        *gorm.DB
	publisher messaging.Publisher
	tokens    *auth.TokenIssuer
}

func NewBackendService(db *gorm.DB, publisher messaging.Publisher, tokens *auth.TokenIssuer) *BackendService {
	return &BackendService{db: db, publisher: publisher, tokens: tokens}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))

	r.Route("/users", func(r chi.Router) {
		r.Post("/signup", RestHandler(s.Signup))
		r.Post("/signin", RestHandler(s.Signin))
		r.With(s.tokens.Middleware).Get("/me", RestHandler(s.GetCurrentUser))
	})

	r.Route("/ml", func(r chi.Router) {
		r.Use(s.tokens.Middleware)
		r.Post("/tasks", RestHandler(s.SubmitTask))
		r.Get("/tasks", RestHandler(s.GetTaskHistory))
		r.Get("/tasks/{task_id}", RestHandler(s.GetTaskStatus))
	})

	r.With(s.tokens.Middleware).Get("/predictions", RestHandler(s.ListPredictions))
}

func (s *BackendService) Signup(r *http.Request) (any, error) {
	req, err := ParseRequest[api.SignupRequest](r)
	if err != nil {
		return nil, err
	}

	if err := auth.ValidateEmail(req.Email); err != nil {
		return nil, CodedError(http.StatusBadRequest, err)
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		return nil, CodedError(http.StatusBadRequest, err)
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error creating user")
	}

	user, err := database.CreateUser(r.Context(), s.db, req.Email, hash)
	if err != nil {
		if errors.Is(err, database.ErrEmailTaken) {
			return nil, CodedErrorf(http.StatusConflict, "user with this email already exists")
		}
		slog.Error("error creating user", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error creating user")
	}

	slog.Info("new user registered", "user_id", user.Id)
	return api.SignupResponse{Message: "User successfully registered"}, nil
}

func (s *BackendService) Signin(r *http.Request) (any, error) {
	req, err := ParseRequest[api.SigninRequest](r)
	if err != nil {
		return nil, err
	}

	user, err := database.GetUserByEmail(r.Context(), s.db, req.Email)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "user doesn't exist")
		}
		slog.Error("error loading user", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error signing in")
	}

	if err := auth.CheckPassword(req.Password, user.PasswordHash); err != nil {
		return nil, CodedErrorf(http.StatusForbidden, "wrong password")
	}

	token, err := s.tokens.CreateToken(user.Id)
	if err != nil {
		slog.Error("error creating token", "user_id", user.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error signing in")
	}

	return api.SigninResponse{Message: "User signed in successfully", AccessToken: token}, nil
}

func (s *BackendService) GetCurrentUser(r *http.Request) (any, error) {
	userId, ok := auth.UserId(r.Context())
	if !ok {
		return nil, CodedErrorf(http.StatusUnauthorized, "not authenticated")
	}

	user, err := database.GetUserById(r.Context(), s.db, userId)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "user not found")
		}
		slog.Error("error loading user", "user_id", userId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving user")
	}

	return api.UserResponse{Id: user.Id, Email: user.Email}, nil
}

func (s *BackendService) SubmitTask(r *http.Request) (any, error) {
	userId, ok := auth.UserId(r.Context())
	if !ok {
		return nil, CodedErrorf(http.StatusUnauthorized, "not authenticated")
	}

	req, err := ParseRequest[api.TaskRequest](r)
	if err != nil {
		return nil, err
	}

	input := strings.TrimSpace(req.InputData)
	if input == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "input data cannot be empty or whitespace")
	}
	if utf8.RuneCountInString(req.InputData) > maxInputLength {
		return nil, CodedErrorf(http.StatusBadRequest, "input data too long (max %d characters)", maxInputLength)
	}
	if !isSupportedModel(req.ModelName) {
		return nil, CodedErrorf(http.StatusBadRequest, "model not supported, use one of: %v", SupportedModels)
	}

	ctx := r.Context()

	task, err := database.CreateTask(ctx, s.db, userId, req.ModelName, input)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create task")
	}

	payload := messaging.MLTaskPayload{
		TaskId:    task.Id,
		UserId:    userId,
		ModelName: req.ModelName,
		InputData: input,
	}

	if err := s.publisher.PublishMLTask(ctx, payload); err != nil {
		// The row exists but no worker will ever see it; surface the failure
		// instead of pretending the task is queued.
		slog.Error("error publishing ml task", "task_id", task.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to send task to worker")
	}

	slog.Info("task submitted", "task_id", task.Id, "user_id", userId, "model", req.ModelName)
	return api.TaskSubmitResponse{Message: "Task sent to ML workers", TaskId: task.Id}, nil
}

func (s *BackendService) GetTaskStatus(r *http.Request) (any, error) {
	userId, ok := auth.UserId(r.Context())
	if !ok {
		return nil, CodedErrorf(http.StatusUnauthorized, "not authenticated")
	}

	taskId, err := URLParamInt64(r, "task_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	task, err := database.GetTask(ctx, s.db, taskId)
	if err != nil {
		if errors.Is(err, database.ErrTaskNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "task not found")
		}
		slog.Error("error loading task", "task_id", taskId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving task")
	}
	if task.UserId != userId {
		return nil, CodedErrorf(http.StatusNotFound, "task not found")
	}

	resp := api.TaskStatusResponse{TaskId: task.Id, Status: string(task.Status), ModelName: task.ModelName}

	switch task.Status {
	case database.TaskPending:
		resp.Message = "Task is still pending"
	case database.TaskProcessing:
		resp.Message = "Task is being processed"
	case database.TaskFailed:
		resp.Message = "Task failed"
	case database.TaskDone:
		if !task.ResultId.Valid {
			slog.Error("done task has no result reference", "task_id", task.Id)
			return nil, CodedErrorf(http.StatusInternalServerError, "result not found")
		}
		prediction, err := database.GetPrediction(ctx, s.db, task.ResultId.Int64)
		if err != nil {
			slog.Error("error loading prediction", "task_id", task.Id, "error", err)
			return nil, CodedErrorf(http.StatusInternalServerError, "result not found")
		}
		resp.Result = prediction.Result
	default:
		slog.Error("task has unrecognized status", "task_id", task.Id, "status", task.Status)
		return nil, CodedErrorf(http.StatusInternalServerError, "unknown task status")
	}

	return resp, nil
}

func (s *BackendService) GetTaskHistory(r *http.Request) (any, error) {
	userId, ok := auth.UserId(r.Context())
	if !ok {
		return nil, CodedErrorf(http.StatusUnauthorized, "not authenticated")
	}

	ctx := r.Context()

	tasks, err := database.ListTasksByUser(ctx, s.db, userId)
	if err != nil {
		slog.Error("error listing tasks", "user_id", userId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving task history")
	}

	history := make([]api.TaskHistoryEntry, len(tasks))
	for i, task := range tasks {
		entry := api.TaskHistoryEntry{
			Id:        task.Id,
			InputData: task.InputData,
			ModelName: task.ModelName,
			Status:    string(task.Status),
			Timestamp: task.CreatedAt,
		}

		switch task.Status {
		case database.TaskDone:
			entry.PredictionResult = "Result unavailable"
			if task.ResultId.Valid {
				if prediction, err := database.GetPrediction(ctx, s.db, task.ResultId.Int64); err == nil {
					entry.PredictionResult = prediction.Result
				}
			}
		case database.TaskFailed:
			entry.PredictionResult = "Task finished with an error"
		case database.TaskPending, database.TaskProcessing:
			entry.PredictionResult = "Result is being processed..."
		default:
			slog.Error("task has unrecognized status", "task_id", task.Id, "status", task.Status)
			entry.PredictionResult = "Result unavailable"
		}

		history[i] = entry
	}

	return history, nil
}

func (s *BackendService) ListPredictions(r *http.Request) (any, error) {
	userId, ok := auth.UserId(r.Context())
	if !ok {
		return nil, CodedErrorf(http.StatusUnauthorized, "not authenticated")
	}

	query, err := ParseRequestQueryParams[api.ListPredictionsQuery](r)
	if err != nil {
		return nil, err
	}

	predictions, err := database.ListPredictionsByUser(r.Context(), s.db, userId)
	if err != nil {
		slog.Error("error listing predictions", "user_id", userId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving predictions")
	}

	if query.Limit > 0 && query.Limit < len(predictions) {
		predictions = predictions[:query.Limit]
	}

	result := make([]api.Prediction, len(predictions))
	for i, p := range predictions {
		result[i] = api.Prediction{Id: p.Id, ModelName: p.ModelName, Result: p.Result, CreatedAt: p.CreatedAt}
	}

	return result, nil
}

func isSupportedModel(name string) bool {
	for _, m := range SupportedModels {
		if name == m {
			return true
		}
	}
	return false
}
