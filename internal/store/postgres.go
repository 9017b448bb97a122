package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/resolve-cli/internal/match"
	"github.com/sells-group/resolve-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it
// for unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgresFromPool wraps an existing pool. Tests inject pgxmock here.
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id               TEXT PRIMARY KEY,
	email            TEXT NOT NULL DEFAULT '',
	first_name       TEXT NOT NULL DEFAULT '',
	last_name        TEXT NOT NULL DEFAULT '',
	company          TEXT NOT NULL DEFAULT '',
	company_norm     TEXT NOT NULL DEFAULT '',
	email_domain     TEXT NOT NULL DEFAULT '',
	phone            TEXT NOT NULL DEFAULT '',
	phone_digits     TEXT NOT NULL DEFAULT '',
	phone_key        TEXT NOT NULL DEFAULT '',
	source           TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_activity_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_email ON leads(email) WHERE email != '';
CREATE INDEX IF NOT EXISTS idx_leads_company_norm ON leads(company_norm text_pattern_ops);
CREATE INDEX IF NOT EXISTS idx_leads_email_domain ON leads(email_domain);
CREATE INDEX IF NOT EXISTS idx_leads_phone_key ON leads(phone_key);

CREATE TABLE IF NOT EXISTS verification_requests (
	id                TEXT PRIMARY KEY,
	meeting_id        TEXT NOT NULL DEFAULT '',
	participant       JSONB NOT NULL,
	candidate_lead_id TEXT NOT NULL DEFAULT '',
	confidence        DOUBLE PRECISION NOT NULL DEFAULT 0,
	method            TEXT NOT NULL DEFAULT 'none',
	ambiguous         BOOLEAN NOT NULL DEFAULT FALSE,
	status            TEXT NOT NULL DEFAULT 'pending',
	assigned_reviewer TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at       TIMESTAMPTZ,
	resolved_lead_id  TEXT NOT NULL DEFAULT '',
	resolution_note   TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_verifications_status ON verification_requests(status);
CREATE INDEX IF NOT EXISTS idx_verifications_created_at ON verification_requests(created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const pgInsertLead = `INSERT INTO leads (id, email, first_name, last_name, company, company_norm, email_domain,
	phone, phone_digits, phone_key, source, created_at, last_activity_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (email) WHERE email != '' DO NOTHING`

func (s *PostgresStore) CreateLead(ctx context.Context, l *model.Lead) error {
	prepareLead(l)
	tag, err := s.pool.Exec(ctx, pgInsertLead,
		l.ID, l.Email, l.FirstName, l.LastName, l.Company,
		match.NormalizeCompany(l.Company), match.ExtractDomain(l.Email),
		l.Phone, l.PhoneDigits, match.PhoneKey(l.PhoneDigits),
		l.Source, l.CreatedAt, l.LastActivityAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return eris.Wrapf(model.ErrDuplicateLeadRace, "postgres: lead email %s", l.Email)
		}
		return eris.Wrap(err, "postgres: insert lead")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrDuplicateLeadRace, "postgres: lead email %s", l.Email)
	}
	return nil
}

const pgLeadColumns = `id, email, first_name, last_name, company, phone, phone_digits, source, created_at, last_activity_at`

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgLeadColumns+` FROM leads WHERE id = $1`, id)
	l, err := scanLeadRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrLeadNotFound, "postgres: lead %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get lead")
	}
	return l, nil
}

func (s *PostgresStore) GetLeadByEmail(ctx context.Context, email string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgLeadColumns+` FROM leads WHERE email = $1 AND email != ''`,
		match.NormalizeEmail(email))
	l, err := scanLeadRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get lead by email")
	}
	return l, nil
}

func (s *PostgresStore) ListLeadsByCompanyPrefix(ctx context.Context, prefix string, limit int) ([]model.Lead, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgLeadColumns+` FROM leads
		 WHERE company_norm != '' AND company_norm LIKE $1 || '%'
		 ORDER BY last_activity_at DESC LIMIT $2`,
		prefix, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads by company")
	}
	return collectPgLeadRows(rows)
}

func (s *PostgresStore) ListLeadsByDomain(ctx context.Context, domain string, limit int) ([]model.Lead, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgLeadColumns+` FROM leads
		 WHERE email_domain = $1 ORDER BY last_activity_at DESC LIMIT $2`,
		strings.ToLower(domain), limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads by domain")
	}
	return collectPgLeadRows(rows)
}

func (s *PostgresStore) ListLeadsByPhoneKey(ctx context.Context, phoneKey string) ([]model.Lead, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgLeadColumns+` FROM leads
		 WHERE phone_key = $1 AND phone_key != '' ORDER BY last_activity_at DESC`,
		phoneKey)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads by phone")
	}
	return collectPgLeadRows(rows)
}

func (s *PostgresStore) TouchLeadActivity(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET last_activity_at = $1 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return eris.Wrap(err, "postgres: touch lead activity")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrLeadNotFound, "postgres: lead %s", id)
	}
	return nil
}

func (s *PostgresStore) CreateVerification(ctx context.Context, v *model.VerificationRequest) error {
	prepareVerification(v)
	snapshot, err := json.Marshal(v.Participant)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal participant snapshot")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO verification_requests (id, meeting_id, participant, candidate_lead_id,
			confidence, method, ambiguous, status, assigned_reviewer, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		v.ID, v.MeetingID, snapshot, v.CandidateLeadID,
		v.Confidence, string(v.Method), v.Ambiguous, string(v.Status),
		v.AssignedReviewer, v.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert verification request")
}

const pgVerificationColumns = `id, meeting_id, participant, candidate_lead_id, confidence, method,
	ambiguous, status, assigned_reviewer, created_at, resolved_at, resolved_lead_id, resolution_note`

func (s *PostgresStore) GetVerification(ctx context.Context, id string) (*model.VerificationRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgVerificationColumns+` FROM verification_requests WHERE id = $1`, id)
	v, err := scanPgVerificationRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrVerificationNotFound, "postgres: verification %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get verification")
	}
	return v, nil
}

func (s *PostgresStore) ResolveVerification(ctx context.Context, id string, res Resolution) (*model.VerificationRequest, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin resolve tx")
	}
	defer tx.Rollback(ctx)

	resolvedLeadID := res.LeadID

	if res.NewLead != nil {
		prepareLead(res.NewLead)
		l := res.NewLead
		tag, err := tx.Exec(ctx, pgInsertLead,
			l.ID, l.Email, l.FirstName, l.LastName, l.Company,
			match.NormalizeCompany(l.Company), match.ExtractDomain(l.Email),
			l.Phone, l.PhoneDigits, match.PhoneKey(l.PhoneDigits),
			l.Source, l.CreatedAt, l.LastActivityAt,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: insert lead in resolution")
		}
		if tag.RowsAffected() == 0 && l.Email != "" {
			// Benign race: a concurrent resolution created the lead first.
			var existingID string
			if ferr := tx.QueryRow(ctx,
				`SELECT id FROM leads WHERE email = $1`, l.Email).Scan(&existingID); ferr != nil {
				return nil, eris.Wrap(ferr, "postgres: refetch lead after duplicate race")
			}
			resolvedLeadID = existingID
		} else {
			resolvedLeadID = l.ID
		}
	}

	tag, err := tx.Exec(ctx,
		`UPDATE verification_requests
		 SET status = $1, assigned_reviewer = $2, resolved_at = $3, resolved_lead_id = $4, resolution_note = $5
		 WHERE id = $6 AND status = 'pending'`,
		string(res.Status), res.Reviewer, res.At.UTC(), resolvedLeadID, res.Note, id)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: resolve verification")
	}
	if tag.RowsAffected() == 0 {
		var status string
		serr := tx.QueryRow(ctx,
			`SELECT status FROM verification_requests WHERE id = $1`, id).Scan(&status)
		if errors.Is(serr, pgx.ErrNoRows) {
			return nil, eris.Wrapf(model.ErrVerificationNotFound, "postgres: verification %s", id)
		}
		if serr != nil {
			return nil, eris.Wrap(serr, "postgres: check verification status")
		}
		return nil, eris.Wrapf(model.ErrInvalidState, "postgres: verification %s is %s", id, status)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit resolve tx")
	}
	return s.GetVerification(ctx, id)
}

func (s *PostgresStore) ListPendingVerifications(ctx context.Context, filter PendingFilter) ([]model.VerificationRequest, error) {
	query := `SELECT ` + pgVerificationColumns + ` FROM verification_requests WHERE status = 'pending'`
	args := []any{}
	n := 0
	next := func() string {
		n++
		return "$" + strconv.Itoa(n)
	}
	if filter.Reviewer != "" {
		query += ` AND assigned_reviewer = ` + next()
		args = append(args, filter.Reviewer)
	}
	if !filter.CreatedBefore.IsZero() {
		query += ` AND created_at < ` + next()
		args = append(args, filter.CreatedBefore.UTC())
	}
	if filter.MinConfidence > 0 {
		query += ` AND confidence >= ` + next()
		args = append(args, filter.MinConfidence)
	}
	query += ` ORDER BY created_at ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + next()
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending verifications")
	}
	defer rows.Close()

	var out []model.VerificationRequest
	for rows.Next() {
		v, err := scanPgVerificationRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan verification")
		}
		out = append(out, *v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate verifications")
}

func collectPgLeadRows(rows pgx.Rows) ([]model.Lead, error) {
	defer rows.Close()
	var out []model.Lead
	for rows.Next() {
		l, err := scanLeadRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate leads")
}

func scanPgVerificationRow(r rowScanner) (*model.VerificationRequest, error) {
	var (
		v          model.VerificationRequest
		snapshot   []byte
		method     string
		status     string
		resolvedAt *time.Time
	)
	if err := r.Scan(&v.ID, &v.MeetingID, &snapshot, &v.CandidateLeadID, &v.Confidence,
		&method, &v.Ambiguous, &status, &v.AssignedReviewer, &v.CreatedAt,
		&resolvedAt, &v.ResolvedLeadID, &v.ResolutionNote); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(snapshot, &v.Participant); err != nil {
		return nil, eris.Wrap(err, "unmarshal participant snapshot")
	}
	v.Method = model.MatchMethod(method)
	v.Status = model.VerificationStatus(status)
	v.ResolvedAt = resolvedAt
	return &v, nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
