// Package settings reads and updates the app settings record.
package settings

import (
	"context"
	"sync"

	"github.com/notexe/vocalizeit/internal/reminder"
)

// Store persists the settings record.
type Store interface {
	GetSettings(ctx context.Context) (reminder.AppSettings, error)
	SaveSettings(ctx context.Context, settings reminder.AppSettings) error
}

// Patch holds optional settings fields.
type Patch struct {
	SnoozeDuration *int            `json:"snoozeDuration,omitempty"`
	Theme          *reminder.Theme `json:"theme,omitempty"`
}

// Controller serves the settings record.
type Controller struct {
	store Store
	mu    sync.Mutex
}

// New creates a Controller.
func New(store Store) *Controller {
	return &Controller{store: store}
}

// Get returns the stored settings merged onto the defaults.
func (c *Controller) Get(ctx context.Context) (reminder.AppSettings, error) {
	return c.store.GetSettings(ctx)
}

// Set merges patch onto the current settings, validates and persists the
// result.
func (c *Controller) Set(ctx context.Context, patch Patch) (reminder.AppSettings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.store.GetSettings(ctx)
	if err != nil {
		return reminder.AppSettings{}, err
	}

	if patch.SnoozeDuration != nil {
		current.SnoozeDuration = *patch.SnoozeDuration
	}
	if patch.Theme != nil {
		current.Theme = *patch.Theme
	}
	if err := current.Validate(); err != nil {
		return reminder.AppSettings{}, err
	}

	if err := c.store.SaveSettings(ctx, current); err != nil {
		return reminder.AppSettings{}, err
	}
	return current, nil
}
