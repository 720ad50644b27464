package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/99minutos/identity-service/internal/core/domain"
	"github.com/99minutos/identity-service/internal/core/ports"
)

// AccountRepository implements ports.AccountRepository using MongoDB.
type AccountRepository struct {
	col   *mongo.Collection
	roles *mongo.Collection
}

func (r *AccountRepository) FindActiveByLogin(ctx context.Context, usernameOrEmail string) (*domain.Account, error) {
	key := domain.NormalizeEmail(usernameOrEmail)
	return r.findOne(ctx, bson.M{
		"is_active": true,
		"$or": bson.A{
			bson.M{"username_normalized": key},
			bson.M{"email_normalized": key},
		},
	})
}

func (r *AccountRepository) FindActiveByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return r.findOne(ctx, bson.M{"_id": id.String(), "is_active": true})
}

func (r *AccountRepository) findOne(ctx context.Context, filter bson.M) (*domain.Account, error) {
	var doc accountDoc
	if err := r.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.NotFound(domain.ErrAccountNotFound)
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	role, err := r.role(ctx, doc.RoleID)
	if err != nil {
		return nil, err
	}
	return doc.toDomain(role)
}

func (r *AccountRepository) role(ctx context.Context, id int64) (*domain.Role, error) {
	var doc roleDoc
	if err := r.roles.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, fmt.Errorf("resolve role %d: %w", id, err)
	}
	return doc.toDomain(), nil
}

func (r *AccountRepository) UsernameInUse(ctx context.Context, username string, excludeID uuid.UUID) (bool, error) {
	return r.inUse(ctx, "username_normalized", domain.NormalizeUsername(username), excludeID)
}

func (r *AccountRepository) EmailInUse(ctx context.Context, email string, excludeID uuid.UUID) (bool, error) {
	return r.inUse(ctx, "email_normalized", domain.NormalizeEmail(email), excludeID)
}

func (r *AccountRepository) inUse(ctx context.Context, field, value string, excludeID uuid.UUID) (bool, error) {
	filter := bson.M{field: value, "is_active": true}
	if excludeID != uuid.Nil {
		filter["_id"] = bson.M{"$ne": excludeID.String()}
	}
	n, err := r.col.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("check %s: %w", field, err)
	}
	return n > 0, nil
}

func (r *AccountRepository) Insert(ctx context.Context, a *domain.Account) error {
	if _, err := r.col.InsertOne(ctx, fromAccount(a)); err != nil {
		return fmt.Errorf("insert account: %w", translateErr(err))
	}
	return nil
}

func (r *AccountRepository) Update(ctx context.Context, a *domain.Account) error {
	doc := fromAccount(a)
	set := bson.M{
		"email":            doc.Email,
		"email_normalized": doc.EmailNormalized,
		"first_name":       doc.FirstName,
		"last_name":        doc.LastName,
		"password_hash":    doc.PasswordHash,
		"updated_at":       doc.UpdatedAt,
	}
	update := bson.M{"$set": set}
	if doc.ProfilePicture != nil {
		set["profile_picture"] = *doc.ProfilePicture
	} else {
		update["$unset"] = bson.M{"profile_picture": ""}
	}

	res, err := r.col.UpdateOne(ctx, bson.M{"_id": doc.ID, "is_active": true}, update)
	if err != nil {
		return fmt.Errorf("update account: %w", translateErr(err))
	}
	if res.MatchedCount == 0 {
		return domain.NotFound(domain.ErrAccountNotFound)
	}
	return nil
}

func (r *AccountRepository) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": id.String(), "is_active": true},
		bson.M{"$set": bson.M{"last_login_at": at.UTC()}},
	)
	if err != nil {
		return fmt.Errorf("touch last login: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.NotFound(domain.ErrAccountNotFound)
	}
	return nil
}

func (r *AccountRepository) CountActiveByRole(ctx context.Context, roleID int64) (int64, error) {
	n, err := r.col.CountDocuments(ctx, bson.M{"role_id": roleID, "is_active": true})
	if err != nil {
		return 0, fmt.Errorf("count accounts by role: %w", err)
	}
	return n, nil
}

// SoftDelete must run inside Store.RunInTx when guarded: bumping the role's
// guard field makes two concurrent guarded deletes write-conflict, and the
// retried transaction recounts.
func (r *AccountRepository) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time, guard ports.DeleteGuard) (bool, error) {
	if guard.KeepLastOfRole != 0 {
		if _, err := r.roles.UpdateOne(ctx,
			bson.M{"_id": guard.KeepLastOfRole},
			bson.M{"$inc": bson.M{"guard": 1}},
		); err != nil {
			return false, fmt.Errorf("lock role: %w", err)
		}
		n, err := r.CountActiveByRole(ctx, guard.KeepLastOfRole)
		if err != nil {
			return false, err
		}
		if n <= 1 {
			return false, nil
		}
	}

	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": id.String(), "is_active": true},
		bson.M{"$set": bson.M{"is_active": false, "updated_at": at.UTC()}},
	)
	if err != nil {
		return false, fmt.Errorf("soft delete account: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

func (r *AccountRepository) List(ctx context.Context, q ports.AccountQuery) ([]*domain.Account, int64, error) {
	filter := bson.M{}
	switch q.Scope {
	case ports.ScopeActive:
		filter["is_active"] = true
	case ports.ScopeInactive:
		filter["is_active"] = false
	case ports.ScopeAll:
	default:
		return nil, 0, fmt.Errorf("list accounts: unknown scope %d", q.Scope)
	}

	if term := strings.TrimSpace(q.Search); term != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(term), Options: "i"}
		filter["$or"] = bson.A{
			bson.M{"username_normalized": re},
			bson.M{"email_normalized": re},
			bson.M{"first_name": re},
			bson.M{"last_name": re},
		}
	}

	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count accounts: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "username_normalized", Value: 1}}).
		SetSkip(int64(q.Page.Offset())).
		SetLimit(int64(q.Page.PageSize))
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list accounts: %w", err)
	}
	var docs []accountDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("decode accounts: %w", err)
	}

	roles := make(map[int64]*domain.Role)
	out := make([]*domain.Account, 0, len(docs))
	for i := range docs {
		role, ok := roles[docs[i].RoleID]
		if !ok {
			if role, err = r.role(ctx, docs[i].RoleID); err != nil {
				return nil, 0, err
			}
			roles[docs[i].RoleID] = role
		}
		acc, err := docs[i].toDomain(role)
		if err != nil {
			return nil, 0, fmt.Errorf("decode account %s: %w", docs[i].ID, err)
		}
		out = append(out, acc)
	}
	return out, total, nil
}
