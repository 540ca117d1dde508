package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/config"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func answers(pairs ...string) []models.QuestionAnswer {
	out := make([]models.QuestionAnswer, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, models.QuestionAnswer{QuestionID: pairs[i], Answer: pairs[i+1]})
	}
	return out
}

func TestNormalizeAnswer(t *testing.T) {
	assert.Equal(t, "rex", normalizeAnswer("  REX \n"))
	assert.Equal(t, "straße", normalizeAnswer("STRAßE"))
	assert.Equal(t, "ünïcode", normalizeAnswer("ÜNÏCODE"))
}

func TestRecoveryVerify(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		answers []models.QuestionAnswer
		want    bool
	}{
		{"all correct", answers("1", "Rex", "2", "Boston"), true},
		{"case and space normalized", answers("1", "  rEX ", "2", "BOSTON"), true},
		{"correct subset", answers("2", "boston"), true},
		{"one wrong", answers("1", "Rex", "2", "Chicago"), false},
		{"unknown question", answers("3", "anything"), false},
		{"empty list", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Recovery.Verify(ctx, tt.answers)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecoveryVerify_WhileLocked(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()
	require.NoError(t, v.Auth.Lock(ctx))

	ok, err := v.Recovery.Verify(ctx, answers("1", "rex"))
	require.NoError(t, err)
	assert.True(t, ok)

	qs, err := v.Recovery.Questions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Question{{ID: "1", Text: "First pet?"}, {ID: "2", Text: "Birth city?"}}, qs)
}

func TestRecoverySetup_ReplacesWholesale(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()

	require.NoError(t, v.Recovery.Setup(ctx, answers("school", "Lincoln High")))

	ok, err := v.Recovery.Verify(ctx, answers("1", "rex"))
	require.NoError(t, err)
	assert.False(t, ok, "old questions are gone")

	ok, err = v.Recovery.Verify(ctx, answers("school", "lincoln high"))
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, v.Recovery.Setup(ctx, nil), common.ErrorValidation)
}

func TestResetPassword_EndToEnd(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()
	addAccount(t, v, "Email", "hunter2")

	res, err := v.Auth.ResetPassword(ctx, []byte("NewPass9!"), answers("1", "rex", "2", "boston"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rotated)
	assert.Equal(t, "hunter2", passwords(t, v)["Email"])

	ok, err := v.Auth.VerifyMasterPassword(ctx, []byte("NewPass9!"))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, v.Auth.Lock(ctx))
	require.NoError(t, v.Auth.SubmitPassword(ctx, []byte("NewPass9!")))
	assert.Equal(t, "hunter2", passwords(t, v)["Email"])

	ok, err = v.Recovery.Verify(ctx, answers("1", "Rex"))
	require.NoError(t, err)
	assert.True(t, ok, "questions survive a reset")
}

func TestResetPassword_WrongAnswers(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()

	_, err := v.Auth.ResetPassword(ctx, []byte("NewPass9!"), answers("1", "Max"))
	assert.ErrorIs(t, err, common.ErrInvalidCredential)

	ok, err := v.Auth.VerifyMasterPassword(ctx, []byte("Correct7!"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResetPassword_RequiresAuthenticated(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()
	require.NoError(t, v.Auth.Lock(ctx))

	_, err := v.Auth.ResetPassword(ctx, []byte("NewPass9!"), answers("1", "rex"))
	assert.ErrorIs(t, err, common.ErrNotInitialized)
}

func TestResetPassword_NonAtomicGap(t *testing.T) {
	v := setupVault(t, func(c *config.Config) { c.AtomicRotation = false })
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		addAccount(t, v, fmt.Sprintf("acc-%d", i), "pw")
	}

	failAfter(v, 1)
	_, err := v.Auth.ResetPassword(ctx, []byte("NewPass9!"), answers("1", "rex"))

	var pre *common.PartialRotationError
	require.ErrorAs(t, err, &pre)
	assert.Equal(t, 1, pre.Rotated)
	assert.Equal(t, 2, pre.Remaining)

	ok, err := v.Auth.VerifyMasterPassword(ctx, []byte("NewPass9!"))
	require.NoError(t, err)
	assert.True(t, ok, "verification record was swapped before the cascade")
	assert.Equal(t, StateAuthenticated, v.Auth.State())

	res, err := v.Credentials.List(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Accounts, 2, "old key still reads the unrotated records")
}

func TestResetPassword_AtomicRollsBack(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		addAccount(t, v, fmt.Sprintf("acc-%d", i), "pw")
	}

	failAfter(v, 1)
	_, err := v.Auth.ResetPassword(ctx, []byte("NewPass9!"), answers("1", "rex"))

	var pre *common.PartialRotationError
	require.ErrorAs(t, err, &pre)
	assert.True(t, pre.RolledBack)

	ok, err := v.Auth.VerifyMasterPassword(ctx, []byte("Correct7!"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, passwords(t, v), 3)
}
