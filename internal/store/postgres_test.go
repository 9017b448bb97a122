package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/resolve-cli/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresFromPool(mock), mock
}

func TestPostgresCreateLead(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO leads`).
		WithArgs(pgxmock.AnyArg(), "jane@acme.com", "Jane", "Doe", "Acme Corp", "acme",
			"acme.com", "", "", "", "meeting", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	lead := &model.Lead{
		Email:     "Jane@Acme.com",
		FirstName: "Jane",
		LastName:  "Doe",
		Company:   "Acme Corp",
		Source:    "meeting",
	}
	require.NoError(t, st.CreateLead(context.Background(), lead))
	assert.NotEmpty(t, lead.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateLeadDuplicateRace(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)

	leadArgs := make([]any, 13)
	for i := range leadArgs {
		leadArgs[i] = pgxmock.AnyArg()
	}

	t.Run("conflict swallowed by do nothing", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO leads`).
			WithArgs(leadArgs...).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))

		err := st.CreateLead(context.Background(), &model.Lead{Email: "jane@acme.com"})
		assert.True(t, errors.Is(err, model.ErrDuplicateLeadRace))
	})

	t.Run("unique violation error", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO leads`).
			WithArgs(leadArgs...).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		err := st.CreateLead(context.Background(), &model.Lead{Email: "jane@acme.com"})
		assert.True(t, errors.Is(err, model.ErrDuplicateLeadRace))
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetLeadByEmail(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	now := time.Now().UTC()

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM leads WHERE email =`).
			WithArgs("jane@acme.com").
			WillReturnRows(pgxmock.NewRows([]string{
				"id", "email", "first_name", "last_name", "company",
				"phone", "phone_digits", "source", "created_at", "last_activity_at",
			}).AddRow("lead-1", "jane@acme.com", "Jane", "Doe", "Acme",
				"", "", "meeting", now, now))

		lead, err := st.GetLeadByEmail(context.Background(), "Jane@Acme.com")
		require.NoError(t, err)
		require.NotNil(t, lead)
		assert.Equal(t, "lead-1", lead.ID)
	})

	t.Run("miss returns nil nil", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM leads WHERE email =`).
			WithArgs("nobody@acme.com").
			WillReturnError(pgx.ErrNoRows)

		lead, err := st.GetLeadByEmail(context.Background(), "nobody@acme.com")
		require.NoError(t, err)
		assert.Nil(t, lead)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetLeadNotFound(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT (.+) FROM leads WHERE id =`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := st.GetLead(context.Background(), "missing")
	assert.True(t, errors.Is(err, model.ErrLeadNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTouchLeadActivity(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	at := time.Now()

	mock.ExpectExec(`UPDATE leads SET last_activity_at`).
		WithArgs(at.UTC(), "lead-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, st.TouchLeadActivity(context.Background(), "lead-1", at))

	mock.ExpectExec(`UPDATE leads SET last_activity_at`).
		WithArgs(at.UTC(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := st.TouchLeadActivity(context.Background(), "missing", at)
	assert.True(t, errors.Is(err, model.ErrLeadNotFound))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresResolveVerificationInvalidState(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE verification_requests`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM verification_requests`).
		WithArgs("req-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("rejected"))
	mock.ExpectRollback()

	_, err := st.ResolveVerification(context.Background(), "req-1", Resolution{
		Status: model.StatusApprovedMatch,
		LeadID: "lead-1",
		At:     time.Now(),
	})
	assert.True(t, errors.Is(err, model.ErrInvalidState))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresResolveVerificationNotFound(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE verification_requests`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM verification_requests`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := st.ResolveVerification(context.Background(), "missing", Resolution{
		Status: model.StatusRejected,
		At:     time.Now(),
	})
	assert.True(t, errors.Is(err, model.ErrVerificationNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListPendingVerificationsFilters(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT (.+) FROM verification_requests WHERE status = 'pending' AND assigned_reviewer = \$1 AND created_at < \$2 AND confidence >= \$3`).
		WithArgs("rev", cutoff, 0.5).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "meeting_id", "participant", "candidate_lead_id", "confidence", "method",
			"ambiguous", "status", "assigned_reviewer", "created_at", "resolved_at",
			"resolved_lead_id", "resolution_note",
		}).AddRow("req-1", "mtg-1", []byte(`{"email":"jane@acme.com"}`), "lead-1", 0.75, "domain",
			false, "pending", "rev", cutoff.Add(-time.Hour), (*time.Time)(nil), "", ""))

	out, err := st.ListPendingVerifications(context.Background(), PendingFilter{
		Reviewer:      "rev",
		CreatedBefore: cutoff,
		MinConfidence: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "jane@acme.com", out[0].Participant.Email)
	assert.Equal(t, model.MethodDomain, out[0].Method)
	require.NoError(t, mock.ExpectationsWereMet())
}
