package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/99minutos/identity-service/internal/core/domain"
)

// RefreshTokenRepository implements ports.RefreshTokenRepository using MongoDB.
type RefreshTokenRepository struct {
	col *mongo.Collection
}

func (r *RefreshTokenRepository) Insert(ctx context.Context, t *domain.RefreshToken) error {
	if _, err := r.col.InsertOne(ctx, fromRefreshToken(t)); err != nil {
		return fmt.Errorf("insert refresh token: %w", translateErr(err))
	}
	return nil
}

// openFilter matches a token that has been neither used nor invalidated.
func openFilter(extra bson.M) bson.M {
	f := bson.M{"used_at": nil, "invalidated_at": nil}
	for k, v := range extra {
		f[k] = v
	}
	return f
}

// MarkUsed is a single FindOneAndUpdate, atomic per document.
func (r *RefreshTokenRepository) MarkUsed(ctx context.Context, tokenHash string, now time.Time) (uuid.UUID, bool, error) {
	now = now.UTC()
	filter := openFilter(bson.M{
		"token_hash": tokenHash,
		"is_active":  true,
		"expires_at": bson.M{"$gt": now},
	})

	var doc refreshTokenDoc
	err := r.col.FindOneAndUpdate(ctx, filter, bson.M{"$set": bson.M{"used_at": now}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("mark refresh token used: %w", err)
	}
	id, err := uuid.Parse(doc.AccountID)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("decode refresh token owner: %w", err)
	}
	return id, true, nil
}

func (r *RefreshTokenRepository) Invalidate(ctx context.Context, tokenHash string, now time.Time) error {
	_, err := r.col.UpdateOne(ctx,
		openFilter(bson.M{"token_hash": tokenHash}),
		bson.M{"$set": bson.M{"invalidated_at": now.UTC()}},
	)
	if err != nil {
		return fmt.Errorf("invalidate refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) InvalidateAllForAccount(ctx context.Context, accountID uuid.UUID, now time.Time) (int64, error) {
	res, err := r.col.UpdateMany(ctx,
		openFilter(bson.M{"account_id": accountID.String()}),
		bson.M{"$set": bson.M{"invalidated_at": now.UTC()}},
	)
	if err != nil {
		return 0, fmt.Errorf("invalidate refresh tokens: %w", err)
	}
	return res.ModifiedCount, nil
}
