package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// Preferences persists console display preferences next to the session.
type Preferences struct {
	storage Storage
}

// NewPreferences constructs Preferences over storage.
func NewPreferences(storage Storage) *Preferences {
	return &Preferences{storage: storage}
}

// DarkMode reports the persisted flag; absent or unreadable values mean false.
func (p *Preferences) DarkMode(ctx context.Context) (bool, error) {
	raw, err := p.storage.Get(ctx, DarkModeKey)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("session: dark mode: %w", err)
	}
	enabled, err := strconv.ParseBool(string(raw))
	if err != nil {
		return false, nil
	}
	return enabled, nil
}

// SetDarkMode persists the flag.
func (p *Preferences) SetDarkMode(ctx context.Context, enabled bool) error {
	if err := p.storage.Set(ctx, DarkModeKey, []byte(strconv.FormatBool(enabled))); err != nil {
		return fmt.Errorf("session: set dark mode: %w", err)
	}
	return nil
}
