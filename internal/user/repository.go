package user

import (
	"context"
	"errors"

	"golang.org/x/sync/singleflight"

	"go-dm/internal/docstore"
)

const usersCollection = "users"

var ErrUserNotFound = errors.New("user not found")

type Repository struct {
	store docstore.Store
	group singleflight.Group
}

func NewRepository(store docstore.Store) *Repository {
	return &Repository{store: store}
}

// GetProfile is a point read. Concurrent lookups of the same id share one
// store call.
func (r *Repository) GetProfile(ctx context.Context, id string) (*Profile, error) {
	v, err, _ := r.group.Do(id, func() (any, error) {
		doc, err := r.store.Get(ctx, usersCollection, id)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return nil, ErrUserNotFound
			}
			return nil, err
		}
		p := &Profile{ID: id}
		for field, dst := range map[string]any{
			"username": &p.Username,
			"name":     &p.Name,
			"avatar":   &p.Avatar,
			"bio":      &p.Bio,
			"lastSeen": &p.LastSeen,
		} {
			if _, err := doc.Decode(field, dst); err != nil {
				return nil, err
			}
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	p := *v.(*Profile)
	return &p, nil
}

func (r *Repository) SaveProfile(ctx context.Context, p Profile) error {
	return r.store.SetMerge(ctx, usersCollection, p.ID, docstore.Fields{
		"id":       p.ID,
		"username": p.Username,
		"name":     p.Name,
		"avatar":   p.Avatar,
		"bio":      p.Bio,
		"lastSeen": p.LastSeen,
	})
}

// TouchLastSeen stamps lastSeen on an existing profile. A missing profile is
// left alone.
func (r *Repository) TouchLastSeen(ctx context.Context, id string, millis int64) error {
	err := r.store.UpdateFields(ctx, usersCollection, id, docstore.Fields{"lastSeen": millis})
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	return err
}
