// Package master persists the singleton master-verification record.
package master

import (
	"context"

	"github.com/dmitrijs2005/gophvault/internal/models"
)

type Repository interface {
	// Get returns the record or common.ErrorNotFound before setup.
	Get(ctx context.Context) (*models.MasterVerification, error)
	// Replace writes the record, overwriting any previous one.
	Replace(ctx context.Context, mv *models.MasterVerification) error
}
