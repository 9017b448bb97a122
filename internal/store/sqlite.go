package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/resolve-cli/internal/match"
	"github.com/sells-group/resolve-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
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
	created_at       DATETIME NOT NULL,
	last_activity_at DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_email ON leads(email) WHERE email != '';
CREATE INDEX IF NOT EXISTS idx_leads_company_norm ON leads(company_norm);
CREATE INDEX IF NOT EXISTS idx_leads_email_domain ON leads(email_domain);
CREATE INDEX IF NOT EXISTS idx_leads_phone_key ON leads(phone_key);

CREATE TABLE IF NOT EXISTS verification_requests (
	id                TEXT PRIMARY KEY,
	meeting_id        TEXT NOT NULL DEFAULT '',
	participant       TEXT NOT NULL,
	candidate_lead_id TEXT NOT NULL DEFAULT '',
	confidence        REAL NOT NULL DEFAULT 0,
	method            TEXT NOT NULL DEFAULT 'none',
	ambiguous         INTEGER NOT NULL DEFAULT 0,
	status            TEXT NOT NULL DEFAULT 'pending',
	assigned_reviewer TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL,
	resolved_at       DATETIME,
	resolved_lead_id  TEXT NOT NULL DEFAULT '',
	resolution_note   TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_verifications_status ON verification_requests(status);
CREATE INDEX IF NOT EXISTS idx_verifications_created_at ON verification_requests(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateLead(ctx context.Context, l *model.Lead) error {
	prepareLead(l)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (id, email, first_name, last_name, company, company_norm, email_domain,
			phone, phone_digits, phone_key, source, created_at, last_activity_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Email, l.FirstName, l.LastName, l.Company,
		match.NormalizeCompany(l.Company), match.ExtractDomain(l.Email),
		l.Phone, l.PhoneDigits, match.PhoneKey(l.PhoneDigits),
		l.Source, l.CreatedAt, l.LastActivityAt,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return eris.Wrapf(model.ErrDuplicateLeadRace, "sqlite: lead email %s", l.Email)
		}
		return eris.Wrap(err, "sqlite: insert lead")
	}
	return nil
}

const sqliteLeadColumns = `id, email, first_name, last_name, company, phone, phone_digits, source, created_at, last_activity_at`

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteLeadColumns+` FROM leads WHERE id = ?`, id)
	l, err := scanLeadRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrLeadNotFound, "sqlite: lead %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get lead")
	}
	return l, nil
}

func (s *SQLiteStore) GetLeadByEmail(ctx context.Context, email string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteLeadColumns+` FROM leads WHERE email = ? AND email != ''`,
		match.NormalizeEmail(email))
	l, err := scanLeadRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get lead by email")
	}
	return l, nil
}

func (s *SQLiteStore) ListLeadsByCompanyPrefix(ctx context.Context, prefix string, limit int) ([]model.Lead, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteLeadColumns+` FROM leads
		 WHERE company_norm != '' AND company_norm LIKE ? || '%'
		 ORDER BY last_activity_at DESC LIMIT ?`,
		prefix, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads by company")
	}
	return collectLeadRows(rows)
}

func (s *SQLiteStore) ListLeadsByDomain(ctx context.Context, domain string, limit int) ([]model.Lead, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteLeadColumns+` FROM leads
		 WHERE email_domain = ? ORDER BY last_activity_at DESC LIMIT ?`,
		strings.ToLower(domain), limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads by domain")
	}
	return collectLeadRows(rows)
}

func (s *SQLiteStore) ListLeadsByPhoneKey(ctx context.Context, phoneKey string) ([]model.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteLeadColumns+` FROM leads
		 WHERE phone_key = ? AND phone_key != '' ORDER BY last_activity_at DESC`,
		phoneKey)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads by phone")
	}
	return collectLeadRows(rows)
}

func (s *SQLiteStore) TouchLeadActivity(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET last_activity_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return eris.Wrap(err, "sqlite: touch lead activity")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: touch lead activity rows")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrLeadNotFound, "sqlite: lead %s", id)
	}
	return nil
}

func (s *SQLiteStore) CreateVerification(ctx context.Context, v *model.VerificationRequest) error {
	prepareVerification(v)
	snapshot, err := json.Marshal(v.Participant)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal participant snapshot")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO verification_requests (id, meeting_id, participant, candidate_lead_id,
			confidence, method, ambiguous, status, assigned_reviewer, created_at,
			resolved_at, resolved_lead_id, resolution_note)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, '', '')`,
		v.ID, v.MeetingID, string(snapshot), v.CandidateLeadID,
		v.Confidence, string(v.Method), boolToInt(v.Ambiguous), string(v.Status),
		v.AssignedReviewer, v.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert verification request")
}

const sqliteVerificationColumns = `id, meeting_id, participant, candidate_lead_id, confidence, method,
	ambiguous, status, assigned_reviewer, created_at, resolved_at, resolved_lead_id, resolution_note`

func (s *SQLiteStore) GetVerification(ctx context.Context, id string) (*model.VerificationRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteVerificationColumns+` FROM verification_requests WHERE id = ?`, id)
	v, err := scanVerificationRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrVerificationNotFound, "sqlite: verification %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get verification")
	}
	return v, nil
}

func (s *SQLiteStore) ResolveVerification(ctx context.Context, id string, res Resolution) (*model.VerificationRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin resolve tx")
	}
	defer tx.Rollback()

	resolvedLeadID := res.LeadID

	if res.NewLead != nil {
		prepareLead(res.NewLead)
		l := res.NewLead
		_, err := tx.ExecContext(ctx,
			`INSERT INTO leads (id, email, first_name, last_name, company, company_norm, email_domain,
				phone, phone_digits, phone_key, source, created_at, last_activity_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, l.Email, l.FirstName, l.LastName, l.Company,
			match.NormalizeCompany(l.Company), match.ExtractDomain(l.Email),
			l.Phone, l.PhoneDigits, match.PhoneKey(l.PhoneDigits),
			l.Source, l.CreatedAt, l.LastActivityAt,
		)
		switch {
		case err == nil:
			resolvedLeadID = l.ID
		case isSQLiteUniqueViolation(err) && l.Email != "":
			// Benign race: a concurrent resolution created the lead first.
			var existingID string
			if ferr := tx.QueryRowContext(ctx,
				`SELECT id FROM leads WHERE email = ?`, l.Email).Scan(&existingID); ferr != nil {
				return nil, eris.Wrap(ferr, "sqlite: refetch lead after duplicate race")
			}
			resolvedLeadID = existingID
		default:
			return nil, eris.Wrap(err, "sqlite: insert lead in resolution")
		}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE verification_requests
		 SET status = ?, assigned_reviewer = ?, resolved_at = ?, resolved_lead_id = ?, resolution_note = ?
		 WHERE id = ? AND status = 'pending'`,
		string(res.Status), res.Reviewer, res.At.UTC(), resolvedLeadID, res.Note, id)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: resolve verification")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: resolve verification rows")
	}
	if n == 0 {
		var status string
		serr := tx.QueryRowContext(ctx,
			`SELECT status FROM verification_requests WHERE id = ?`, id).Scan(&status)
		if errors.Is(serr, sql.ErrNoRows) {
			return nil, eris.Wrapf(model.ErrVerificationNotFound, "sqlite: verification %s", id)
		}
		if serr != nil {
			return nil, eris.Wrap(serr, "sqlite: check verification status")
		}
		return nil, eris.Wrapf(model.ErrInvalidState, "sqlite: verification %s is %s", id, status)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit resolve tx")
	}
	return s.GetVerification(ctx, id)
}

func (s *SQLiteStore) ListPendingVerifications(ctx context.Context, filter PendingFilter) ([]model.VerificationRequest, error) {
	query := `SELECT ` + sqliteVerificationColumns + ` FROM verification_requests WHERE status = 'pending'`
	args := []any{}
	if filter.Reviewer != "" {
		query += ` AND assigned_reviewer = ?`
		args = append(args, filter.Reviewer)
	}
	if !filter.CreatedBefore.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, filter.CreatedBefore.UTC())
	}
	if filter.MinConfidence > 0 {
		query += ` AND confidence >= ?`
		args = append(args, filter.MinConfidence)
	}
	query += ` ORDER BY created_at ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending verifications")
	}
	defer rows.Close()

	var out []model.VerificationRequest
	for rows.Next() {
		v, err := scanVerificationRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan verification")
		}
		out = append(out, *v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate verifications")
}

// rowScanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanLeadRow(r rowScanner) (*model.Lead, error) {
	var l model.Lead
	if err := r.Scan(&l.ID, &l.Email, &l.FirstName, &l.LastName, &l.Company,
		&l.Phone, &l.PhoneDigits, &l.Source, &l.CreatedAt, &l.LastActivityAt); err != nil {
		return nil, err
	}
	return &l, nil
}

func collectLeadRows(rows *sql.Rows) ([]model.Lead, error) {
	defer rows.Close()
	var out []model.Lead
	for rows.Next() {
		l, err := scanLeadRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate leads")
}

func scanVerificationRow(r rowScanner) (*model.VerificationRequest, error) {
	var (
		v          model.VerificationRequest
		snapshot   string
		method     string
		status     string
		ambiguous  int
		resolvedAt sql.NullTime
	)
	if err := r.Scan(&v.ID, &v.MeetingID, &snapshot, &v.CandidateLeadID, &v.Confidence,
		&method, &ambiguous, &status, &v.AssignedReviewer, &v.CreatedAt,
		&resolvedAt, &v.ResolvedLeadID, &v.ResolutionNote); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(snapshot), &v.Participant); err != nil {
		return nil, eris.Wrap(err, "unmarshal participant snapshot")
	}
	v.Method = model.MatchMethod(method)
	v.Status = model.VerificationStatus(status)
	v.Ambiguous = ambiguous != 0
	if resolvedAt.Valid {
		t := resolvedAt.Time
		v.ResolvedAt = &t
	}
	return &v, nil
}

// prepareLead fills identifiers, normalized fields, and timestamps before
// an insert.
func prepareLead(l *model.Lead) {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	l.Email = match.NormalizeEmail(l.Email)
	if l.PhoneDigits == "" && l.Phone != "" {
		l.PhoneDigits = match.NormalizePhone(l.Phone)
	}
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	if l.LastActivityAt.IsZero() {
		l.LastActivityAt = l.CreatedAt
	}
}

func prepareVerification(v *model.VerificationRequest) {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.Status == "" {
		v.Status = model.StatusPending
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
}

func isSQLiteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
