package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/99minutos/identity-service/internal/core/domain"
	"github.com/99minutos/identity-service/internal/core/ports"
)

const (
	indexUsernameActive = "ux_accounts_username_active"
	indexEmailActive    = "ux_accounts_email_active"
)

// Store implements ports.Store on MongoDB. Transactions need a replica set.
type Store struct {
	repos
	client *mongo.Client
}

// NewStore ensures indexes and seeds the roles.
func NewStore(ctx context.Context, client *mongo.Client, db *mongo.Database) (*Store, error) {
	s := &Store{repos: repos{db: db}, client: client}
	if err := s.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	if err := s.seedRoles(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// RunInTx runs fn in a multi-document transaction. The driver retries fn on
// transient errors such as write conflicts, so fn must be safe to repeat.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ports.Repositories) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc, s.repos)
	})
	return err
}

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the unique and lookup indexes. Uniqueness of
// username and email only applies to active accounts.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	activeOnly := bson.M{"is_active": true}
	accountIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username_normalized", Value: 1}},
			Options: options.Index().SetName(indexUsernameActive).SetUnique(true).SetPartialFilterExpression(activeOnly),
		},
		{
			Keys:    bson.D{{Key: "email_normalized", Value: 1}},
			Options: options.Index().SetName(indexEmailActive).SetUnique(true).SetPartialFilterExpression(activeOnly),
		},
		{Keys: bson.D{{Key: "role_id", Value: 1}, {Key: "is_active", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	}
	if _, err := s.db.Collection(collectionAccounts).Indexes().CreateMany(ctx, accountIndexes); err != nil {
		return fmt.Errorf("account indexes: %w", err)
	}

	tokenIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "token_hash", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "account_id", Value: 1}}},
	}
	if _, err := s.db.Collection(collectionRefreshTokens).Indexes().CreateMany(ctx, tokenIndexes); err != nil {
		return fmt.Errorf("refresh token indexes: %w", err)
	}

	roleIndex := mongo.IndexModel{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)}
	if _, err := s.db.Collection(collectionRoles).Indexes().CreateOne(ctx, roleIndex); err != nil {
		return fmt.Errorf("role indexes: %w", err)
	}
	return nil
}

func (s *Store) seedRoles(ctx context.Context) error {
	col := s.db.Collection(collectionRoles)
	for _, r := range domain.SeedRoles() {
		doc := bson.M{
			"name":        r.Name,
			"description": r.Description,
			"privileged":  r.Privileged,
			"is_default":  r.IsDefault,
			"is_active":   r.IsActive,
		}
		_, err := col.UpdateOne(ctx,
			bson.M{"_id": r.ID},
			bson.M{"$setOnInsert": doc},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("seed role %s: %w", r.Name, err)
		}
	}
	return nil
}

// repos is stateless: inside RunInTx the session travels in ctx.
type repos struct {
	db *mongo.Database
}

func (r repos) Accounts() ports.AccountRepository {
	return &AccountRepository{col: r.db.Collection(collectionAccounts), roles: r.db.Collection(collectionRoles)}
}

func (r repos) Roles() ports.RoleRepository {
	return &RoleRepository{col: r.db.Collection(collectionRoles)}
}

func (r repos) RefreshTokens() ports.RefreshTokenRepository {
	return &RefreshTokenRepository{col: r.db.Collection(collectionRefreshTokens)}
}

func translateErr(err error) error {
	if err == nil || !mongo.IsDuplicateKeyError(err) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, indexUsernameActive):
		return domain.Conflict(domain.ErrUsernameTaken)
	case strings.Contains(msg, indexEmailActive):
		return domain.Conflict(domain.ErrEmailTaken)
	default:
		return domain.Conflict(errors.New("duplicate record"))
	}
}

var _ ports.Store = (*Store)(nil)
