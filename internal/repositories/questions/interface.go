// Package questions persists the security questions used for recovery.
package questions

import (
	"context"

	"github.com/dmitrijs2005/gophvault/internal/models"
)

type Repository interface {
	// ReplaceAll deletes every configured question and inserts qs. Run it in
	// a transaction to make the swap atomic.
	ReplaceAll(ctx context.Context, qs []models.SecurityQuestion) error
	// GetByQuestionID returns one question or common.ErrorNotFound.
	GetByQuestionID(ctx context.Context, questionID string) (*models.SecurityQuestion, error)
	// List returns all configured questions in insertion order.
	List(ctx context.Context) ([]models.SecurityQuestion, error)
}
