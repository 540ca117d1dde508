package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/dmitrijs2005/gophvault/internal/repositories/master"
	"github.com/dmitrijs2005/gophvault/internal/repositories/questions"
	"github.com/dmitrijs2005/gophvault/internal/store"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Question is a configured recovery question without its answer.
type Question struct {
	ID   string
	Text string
}

// RecoveryService manages security questions and resets the master password
// from verified answers.
type RecoveryService struct {
	sess      *Session
	storePath string
	km        *KeyManager
	backups   *BackupManager
	log       logging.Logger
}

func NewRecoveryService(sess *Session, storePath string, km *KeyManager, backups *BackupManager, log logging.Logger) *RecoveryService {
	return &RecoveryService{sess: sess, storePath: storePath, km: km, backups: backups, log: log}
}

// normalizeAnswer trims and lower-cases an answer so "  Rex" and "rex" hash
// alike.
func normalizeAnswer(s string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(s))
}

func validateAnswers(answers []models.QuestionAnswer) error {
	if len(answers) == 0 {
		return fmt.Errorf("%w: at least one security question is required", common.ErrorValidation)
	}
	seen := make(map[string]struct{}, len(answers))
	for _, a := range answers {
		id := strings.TrimSpace(a.QuestionID)
		if id == "" {
			return fmt.Errorf("%w: question id must not be empty", common.ErrorValidation)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate question id %q", common.ErrorValidation, id)
		}
		seen[id] = struct{}{}
		if normalizeAnswer(a.Answer) == "" {
			return fmt.Errorf("%w: answer to question %q must not be empty", common.ErrorValidation, id)
		}
	}
	return nil
}

// buildQuestions hashes every normalized answer with its own fresh salt.
func buildQuestions(answers []models.QuestionAnswer, kdf cryptox.KDFParams) []models.SecurityQuestion {
	out := make([]models.SecurityQuestion, 0, len(answers))
	for _, a := range answers {
		salt := common.GenerateRandByteArray(cryptox.SaltSize)
		out = append(out, models.SecurityQuestion{
			QuestionID: strings.TrimSpace(a.QuestionID),
			Question:   a.Question,
			AnswerHash: cryptox.HashSecret([]byte(normalizeAnswer(a.Answer)), salt, kdf),
			Salt:       salt,
		})
	}
	return out
}

// Setup replaces the configured questions wholesale.
func (r *RecoveryService) Setup(ctx context.Context, answers []models.QuestionAnswer) error {
	if err := validateAnswers(answers); err != nil {
		return err
	}
	db, key, err := r.sess.requireAuthenticated()
	if err != nil {
		return err
	}
	key.Zero()

	mv, err := master.NewSQLiteRepository(db).Get(ctx)
	if err != nil {
		return err
	}
	qs := buildQuestions(answers, mv.KDF)
	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return questions.NewSQLiteRepository(tx).ReplaceAll(ctx, qs)
	})
	if err != nil {
		return err
	}
	r.log.Info(ctx, "security questions configured", "count", len(qs))
	return nil
}

// withDB runs fn on the session handle, or on a read-only handle when the
// vault is locked.
func (r *RecoveryService) withDB(ctx context.Context, fn func(ctx context.Context, db dbx.DBTX) error) error {
	if db, err := r.sess.DB(); err == nil {
		return fn(ctx, db)
	}
	return store.WithReadOnly(ctx, r.storePath, func(ctx context.Context, db *sql.DB) error {
		return fn(ctx, db)
	})
}

// Verify reports whether every provided answer matches its stored question.
// A correct subset of the configured questions is enough; an empty list is
// never valid.
func (r *RecoveryService) Verify(ctx context.Context, answers []models.QuestionAnswer) (bool, error) {
	if len(answers) == 0 {
		return false, nil
	}

	ok := true
	err := r.withDB(ctx, func(ctx context.Context, db dbx.DBTX) error {
		mv, err := master.NewSQLiteRepository(db).Get(ctx)
		if err != nil {
			return err
		}
		repo := questions.NewSQLiteRepository(db)
		for _, a := range answers {
			q, err := repo.GetByQuestionID(ctx, strings.TrimSpace(a.QuestionID))
			if errors.Is(err, common.ErrorNotFound) {
				ok = false
				continue
			}
			if err != nil {
				return err
			}
			if !cryptox.VerifySecret([]byte(normalizeAnswer(a.Answer)), q.Salt, q.AnswerHash, mv.KDF) {
				ok = false
			}
		}
		return nil
	})
	if errors.Is(err, common.ErrorNotFound) {
		return false, common.ErrNotInitialized
	}
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Questions lists the configured questions in setup order.
func (r *RecoveryService) Questions(ctx context.Context) ([]Question, error) {
	var out []Question
	err := r.withDB(ctx, func(ctx context.Context, db dbx.DBTX) error {
		qs, err := questions.NewSQLiteRepository(db).List(ctx)
		if err != nil {
			return err
		}
		out = make([]Question, 0, len(qs))
		for _, q := range qs {
			out = append(out, Question{ID: q.QuestionID, Text: q.Question})
		}
		return nil
	})
	return out, err
}

// ResetPassword sets a new master password after the answers verify. All
// records are re-encrypted under the new key, which then becomes the session
// key. The session must be authenticated because the current key is the only
// way to read the records.
//
// Without atomic rotation the verification record is swapped before the
// records are re-encrypted, so a failure part way leaves the new password
// valid over records still encrypted with the old key.
func (r *RecoveryService) ResetPassword(ctx context.Context, newPassword []byte, answers []models.QuestionAnswer) (RotationResult, error) {
	if r.sess.State() != StateAuthenticated {
		return RotationResult{}, common.ErrNotInitialized
	}
	if len(newPassword) == 0 {
		return RotationResult{}, fmt.Errorf("%w: password must not be empty", common.ErrorValidation)
	}

	ok, err := r.Verify(ctx, answers)
	if err != nil {
		return RotationResult{}, err
	}
	if !ok {
		r.log.Warn(ctx, "password reset refused: wrong answers")
		return RotationResult{}, common.ErrInvalidCredential
	}

	db, err := r.sess.DB()
	if err != nil {
		return RotationResult{}, err
	}
	mv, err := master.NewSQLiteRepository(db).Get(ctx)
	if err != nil {
		return RotationResult{}, err
	}

	if _, err := r.backups.SnapshotBefore(ctx, "reset"); err != nil {
		return RotationResult{}, err
	}

	newMV, newKey := r.km.NewVerification(newPassword, mv.KDF)
	res, err := r.km.rekey(ctx, r.sess, newKey, newMV, swapBeforeRotation)
	if err != nil {
		return res, err
	}
	r.log.Info(ctx, "master password reset", "records", res.Total)
	return res, nil
}
