package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fitcoach/coach-system/internal/core/domain"
)

const profilesCollection = "profiles"

// ProfileRepository stores one profile per user, keyed by the user ID.
type ProfileRepository struct {
	coll *mongo.Collection
}

func NewProfileRepository(db *mongo.Database) *ProfileRepository {
	return &ProfileRepository{coll: db.Collection(profilesCollection)}
}

type mongoProfile struct {
	ID        string    `bson:"_id"`
	Email     string    `bson:"email,omitempty"`
	FullName  string    `bson:"full_name,omitempty"`
	Role      string    `bson:"role,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (r *ProfileRepository) Create(ctx context.Context, p *domain.Profile) error {
	_, err := r.coll.InsertOne(ctx, mongoProfile{
		ID:        p.ID,
		Email:     p.Email,
		FullName:  p.FullName,
		Role:      string(p.Role),
		CreatedAt: p.CreatedAt.UTC(),
		UpdatedAt: p.UpdatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

func (r *ProfileRepository) FindByID(ctx context.Context, id string) (*domain.Profile, error) {
	var mp mongoProfile
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&mp); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, fmt.Errorf("find profile: %w", err)
	}
	return mp.toDomain(), nil
}

func (r *ProfileRepository) UpdateRole(ctx context.Context, id string, role domain.Role, at time.Time) (*domain.Profile, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	update := bson.M{"$set": bson.M{"role": string(role), "updated_at": at.UTC()}}

	var mp mongoProfile
	if err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&mp); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, fmt.Errorf("update profile role: %w", err)
	}
	return mp.toDomain(), nil
}

// Unknown role strings are kept as-is; the client resolver decides what to
// do with them.
func (mp mongoProfile) toDomain() *domain.Profile {
	return &domain.Profile{
		ID:        mp.ID,
		Email:     mp.Email,
		FullName:  mp.FullName,
		Role:      domain.Role(mp.Role),
		CreatedAt: mp.CreatedAt,
		UpdatedAt: mp.UpdatedAt,
	}
}
