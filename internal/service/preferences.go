package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"studynudge/internal/models"
	"studynudge/internal/storage"
)

// Preferences resolves and updates per-user notification preferences. Users
// who never saved any get the defaults.
type Preferences struct {
	store storage.PreferenceStore
	now   func() time.Time
}

func NewPreferences(store storage.PreferenceStore) *Preferences {
	return &Preferences{store: store, now: time.Now}
}

func (p *Preferences) Get(ctx context.Context, userID string) (*models.NotificationPreferences, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id: %w", models.ErrValidation)
	}

	prefs, err := p.store.Get(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return models.DefaultPreferences(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	return prefs, nil
}

// Patch applies a typed partial update on top of the user's current (or
// default) preferences and persists the result.
func (p *Preferences) Patch(ctx context.Context, userID string, patch *models.PreferencesPatch) (*models.NotificationPreferences, error) {
	if patch == nil {
		return nil, fmt.Errorf("patch: %w", models.ErrValidation)
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	prefs, err := p.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	patch.Apply(prefs)
	prefs.UserID = userID
	prefs.UpdatedAt = p.now()

	if err := p.store.Put(ctx, prefs); err != nil {
		return nil, fmt.Errorf("store preferences: %w", err)
	}

	logrus.WithField("user_id", userID).Info("preferences updated")
	return prefs, nil
}
