package accounts

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/models"
)

// Repository describes CRUD and query operations for Account records.
type Repository interface {
	// Create inserts a new record. The ID must be set by the caller.
	Create(ctx context.Context, a *models.Account) error

	// Update overwrites every field of an existing record except CreatedAt.
	Update(ctx context.Context, a *models.Account) error

	// UpdatePassword replaces only the ciphertext of one record.
	UpdatePassword(ctx context.Context, id string, password string, updatedAt time.Time) error

	// Delete removes a record. A missing ID yields common.ErrorNotFound.
	Delete(ctx context.Context, id string) error

	// GetByID returns one record or common.ErrorNotFound.
	GetByID(ctx context.Context, id string) (*models.Account, error)

	// ListIDs returns the IDs of all records.
	ListIDs(ctx context.Context) ([]string, error)

	// List returns all records ordered by name, case-insensitively.
	List(ctx context.Context) ([]models.Account, error)
}
