package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var ErrPredictionNotFound = errors.New("prediction not found")

func GetPrediction(ctx context.Context, txn *gorm.DB, predictionId int64) (*Prediction, error) {
	var prediction Prediction
	if err := txn.WithContext(ctx).First(&prediction, "id = ?", predictionId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPredictionNotFound
		}
		return nil, fmt.Errorf("error loading prediction %d: %w", predictionId, err)
	}
	return &prediction, nil
}

func ListPredictionsByUser(ctx context.Context, txn *gorm.DB, userId int64) ([]Prediction, error) {
	var predictions []Prediction
	if err := txn.WithContext(ctx).
		Where("user_id = ?", userId).
		Order("created_at desc").
		Find(&predictions).Error; err != nil {
		return nil, fmt.Errorf("error listing predictions for user %d: %w", userId, err)
	}
	return predictions, nil
}
