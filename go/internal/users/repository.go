package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcdev12/duelpad/go/internal/docstore"
	"github.com/mcdev12/duelpad/go/internal/models"
)

// Repository stores users as documents in the users collection
type Repository struct {
	store docstore.Store
}

// NewRepository creates a new users repository
func NewRepository(store docstore.Store) *Repository {
	return &Repository{
		store: store,
	}
}

// CreateUser stores a new user and returns it with its uid
func (r *Repository) CreateUser(ctx context.Context, user models.User) (*models.User, error) {
	user.UID = ""
	fields, err := docstore.FieldsOf(user)
	if err != nil {
		return nil, err
	}
	delete(fields, "uid")

	id, err := r.store.Add(ctx, Collection, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	user.UID = id
	return &user, nil
}

// GetUser retrieves a user by uid
func (r *Repository) GetUser(ctx context.Context, uid string) (*models.User, error) {
	snap, err := r.store.Get(ctx, Collection, uid)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("user %s: %w", uid, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return snapshotToModel(snap)
}

// GetUserByEmail retrieves a user by normalized email
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	snaps, err := r.store.Query(ctx, Collection, docstore.Where("email", email))
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	return snapshotToModel(snaps[0])
}

// UpdateUser changes the profile fields of a user
func (r *Repository) UpdateUser(ctx context.Context, uid string, req UpdateUserRequest) (*models.User, error) {
	snap, err := r.store.Update(ctx, Collection, uid, []docstore.Update{
		docstore.Set("displayName", req.DisplayName),
		docstore.Set("photoURL", req.PhotoURL),
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("user %s: %w", uid, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return snapshotToModel(snap)
}

// snapshotToModel converts a stored document to the domain model
func snapshotToModel(snap docstore.Snapshot) (*models.User, error) {
	var user models.User
	if err := snap.DataTo(&user); err != nil {
		return nil, err
	}
	user.UID = snap.ID
	return &user, nil
}
