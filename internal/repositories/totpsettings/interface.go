// Package totpsettings persists the singleton second-factor configuration.
package totpsettings

import (
	"context"

	"github.com/dmitrijs2005/gophvault/internal/models"
)

type Repository interface {
	// Get returns the settings. A store without a row reports TOTP disabled.
	Get(ctx context.Context) (*models.TOTPSettings, error)
	// Save overwrites the settings. An empty secret is stored as NULL.
	Save(ctx context.Context, s *models.TOTPSettings) error
}
