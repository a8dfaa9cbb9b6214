package session

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/learnhub-dev/learnhub/internal/localstore"
)

// Themes
const (
	ThemeDark  = "dark"
	ThemeLight = "light"

	DefaultTheme = ThemeDark
)

// ErrUnknownTheme is returned by WriteTheme for anything but dark or light
var ErrUnknownTheme = errors.New("theme must be dark or light")

// ReadTheme returns the stored theme preference, or DefaultTheme
func ReadTheme(cache localstore.Store, zlog zerolog.Logger) string {
	theme, err := cache.Get(localstore.KeyTheme)
	if err != nil {
		if !errors.Is(err, localstore.ErrNotFound) {
			zlog.Warn().Err(err).Msg("Failed to read theme preference")
		}
		return DefaultTheme
	}
	if theme != ThemeDark && theme != ThemeLight {
		return DefaultTheme
	}
	return theme
}

// WriteTheme stores the theme preference
func WriteTheme(cache localstore.Store, theme string) error {
	if theme != ThemeDark && theme != ThemeLight {
		return fmt.Errorf("%w: %q", ErrUnknownTheme, theme)
	}
	if err := cache.Set(localstore.KeyTheme, theme); err != nil {
		return fmt.Errorf("failed to save theme preference: %w", err)
	}
	return nil
}
