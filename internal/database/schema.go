package database

import (
	"database/sql"
	"time"
)

// TaskStatus is a closed enumeration. Consumers switch over it exhaustively
// and treat any other value as an error rather than falling through.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskProcessing TaskStatus = "PROCESSING"
	TaskDone       TaskStatus = "DONE"
	TaskFailed     TaskStatus = "FAILED"
)

type User struct {
	Id           int64  `gorm:"primaryKey"`
	Email        string `gorm:"size:255;not null;uniqueIndex"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time

	Tasks       []MLTask     `gorm:"foreignKey:UserId;constraint:OnDelete:CASCADE"`
	Predictions []Prediction `gorm:"foreignKey:UserId;constraint:OnDelete:CASCADE"`
}

// MLTask is a single unit of requested work. Status moves
// PENDING -> PROCESSING -> {DONE, FAILED}; DONE and FAILED are terminal.
// ResultId is set iff Status is DONE, and CompletedAt is stamped only on
// DONE.
type MLTask struct {
	Id     int64 `gorm:"primaryKey"`
	UserId int64 `gorm:"not null;index"`
	User   *User `gorm:"foreignKey:UserId"`

	ModelName string     `gorm:"size:64;not null"`
	InputData string     `gorm:"size:1000;not null"`
	Status    TaskStatus `gorm:"size:20;not null"`

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt sql.NullTime

	ResultId sql.NullInt64
	Result   *Prediction `gorm:"foreignKey:ResultId"`
}

// Prediction is immutable once created; exactly one row is written per
// successfully completed task.
type Prediction struct {
	Id        int64  `gorm:"primaryKey"`
	UserId    int64  `gorm:"not null;index"`
	ModelName string `gorm:"size:64;not null"`
	Result    string `gorm:"not null"`
	CreatedAt time.Time
}
