package questions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/models"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) ReplaceAll(ctx context.Context, qs []models.SecurityQuestion) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM security_questions`); err != nil {
		return fmt.Errorf("failed to clear security questions: %w", err)
	}
	for _, q := range qs {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO security_questions (question_id, question, answer_hash, salt) VALUES (?, ?, ?, ?)`,
			q.QuestionID, q.Question, q.AnswerHash, q.Salt)
		if err != nil {
			return fmt.Errorf("failed to insert security question %s: %w", q.QuestionID, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) GetByQuestionID(ctx context.Context, questionID string) (*models.SecurityQuestion, error) {
	q := &models.SecurityQuestion{}
	err := r.db.QueryRowContext(ctx,
		`SELECT question_id, question, answer_hash, salt FROM security_questions WHERE question_id = ?`, questionID).
		Scan(&q.QuestionID, &q.Question, &q.AnswerHash, &q.Salt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get security question %s: %w", questionID, err)
	}
	return q, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.SecurityQuestion, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT question_id, question, answer_hash, salt FROM security_questions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list security questions: %w", err)
	}
	defer rows.Close()

	result := []models.SecurityQuestion{}
	for rows.Next() {
		var q models.SecurityQuestion
		if err := rows.Scan(&q.QuestionID, &q.Question, &q.AnswerHash, &q.Salt); err != nil {
			return nil, fmt.Errorf("failed to scan security question: %w", err)
		}
		result = append(result, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate security questions: %w", err)
	}
	return result, nil
}
