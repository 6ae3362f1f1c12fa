package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"recordstore-checkout/internal/model"
)

type WebhookEventRepository interface {
	Exists(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, eventID, eventType, cartID, outcome string) error
}

type webhookEventRepoImpl struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepoImpl{db: db}
}

func (r *webhookEventRepoImpl) Exists(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.WebhookEventLog{}).
		Where("event_id = ?", eventID).
		Count(&count).Error

	return count > 0, err
}

// Record upserts the audit row for a delivery. Redeliveries reuse the same
// event id, so a conflict just refreshes the outcome.
func (r *webhookEventRepoImpl) Record(ctx context.Context, eventID, eventType, cartID, outcome string) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&model.WebhookEventLog{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"outcome":      outcome,
			"processed_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	return r.db.WithContext(ctx).Create(&model.WebhookEventLog{
		EventID:     eventID,
		EventType:   eventType,
		CartID:      cartID,
		Outcome:     outcome,
		ProcessedAt: now,
	}).Error
}
