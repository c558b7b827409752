package api

import "time"

type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignupResponse struct {
	Message string `json:"message"`
}

type SigninRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SigninResponse struct {
	Message     string `json:"message"`
	AccessToken string `json:"access_token"`
}

type UserResponse struct {
	Id    int64  `json:"id"`
	Email string `json:"email"`
}

type TaskRequest struct {
	ModelName string `json:"model_name"`
	InputData string `json:"input_data"`
}

type TaskSubmitResponse struct {
	Message string `json:"message"`
	TaskId  int64  `json:"task_id"`
}

type TaskStatusResponse struct {
	TaskId    int64  `json:"task_id"`
	Status    string `json:"status"`
	ModelName string `json:"model_name"`
	Result    string `json:"result,omitempty"`
	Message   string `json:"message,omitempty"`
}

type TaskHistoryEntry struct {
	Id               int64     `json:"id"`
	InputData        string    `json:"input_data"`
	PredictionResult string    `json:"prediction_result"`
	ModelName        string    `json:"model_name"`
	Status           string    `json:"status"`
	Timestamp        time.Time `json:"timestamp"`
}

type Prediction struct {
	Id        int64     `json:"id"`
	ModelName string    `json:"model_name"`
	Result    string    `json:"result"`
	CreatedAt time.Time `json:"created_at"`
}

type ListPredictionsQuery struct {
	Limit int `schema:"limit"`
}
