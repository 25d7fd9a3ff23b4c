package repo

import (
	"context"
	"database/sql"

	"playbooks/internal/domain"
)

// GetOnboarding returns the stored state or a zero state for users who never started.
func (r Repo) GetOnboarding(ctx context.Context, tx *sql.Tx, userID string) (domain.OnboardingState, error) {
	st := domain.OnboardingState{UserID: userID}
	var completed int
	var completedAt sql.NullString
	err := r.q(tx).QueryRowContext(ctx, `SELECT is_completed,current_step,completed_at FROM onboarding WHERE user_id=?`, userID).
		Scan(&completed, &st.CurrentStep, &completedAt)
	if err == sql.ErrNoRows {
		return st, nil
	}
	if err != nil {
		return st, classify(err)
	}
	st.IsCompleted = completed != 0
	st.CompletedAt = ptrFromNull(completedAt)
	return st, nil
}

func (r Repo) UpsertOnboarding(ctx context.Context, tx *sql.Tx, st domain.OnboardingState) error {
	return r.exec(ctx, tx, `INSERT INTO onboarding(user_id,is_completed,current_step,completed_at) VALUES (?,?,?,?)
ON CONFLICT(user_id) DO UPDATE SET is_completed=excluded.is_completed, current_step=excluded.current_step, completed_at=excluded.completed_at`,
		st.UserID, boolInt(st.IsCompleted), st.CurrentStep, nullableStringPtr(st.CompletedAt))
}
