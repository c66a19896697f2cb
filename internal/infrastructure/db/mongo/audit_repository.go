package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/fitcoach/coach-system/internal/core/domain"
)

const auditCollection = "auth_audit"

// AuditRepository appends to the auth_audit collection.
type AuditRepository struct {
	coll *mongo.Collection
}

func NewAuditRepository(db *mongo.Database) *AuditRepository {
	return &AuditRepository{coll: db.Collection(auditCollection)}
}

func (r *AuditRepository) Insert(ctx context.Context, record *domain.AuditRecord) error {
	doc := bson.M{
		"user_id":     record.UserID,
		"action":      record.Action,
		"occurred_at": record.OccurredAt.UTC(),
		"recorded_at": time.Now().UTC(),
	}
	if record.Detail != "" {
		doc["detail"] = record.Detail
	}
	_, err := r.coll.InsertOne(ctx, doc)
	return err
}
