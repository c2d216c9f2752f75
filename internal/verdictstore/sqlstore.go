package verdictstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// schemaDDL is the canonical portable schema from spec §6.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS verified_emails(
	email TEXT PRIMARY KEY,
	normalized TEXT NOT NULL,
	reachability TEXT NOT NULL,
	is_deliverable BOOLEAN,
	is_catch_all BOOLEAN,
	is_disposable BOOLEAN NOT NULL,
	is_role BOOLEAN NOT NULL,
	is_free BOOLEAN NOT NULL,
	mx_host TEXT,
	smtp_code INT NOT NULL,
	smtp_message TEXT,
	provider TEXT,
	domain TEXT,
	verified_at TIMESTAMP NOT NULL,
	error TEXT
);
CREATE INDEX IF NOT EXISTS idx_verified_emails_reachability ON verified_emails(reachability);
CREATE INDEX IF NOT EXISTS idx_verified_emails_domain ON verified_emails(domain);
CREATE INDEX IF NOT EXISTS idx_verified_emails_verified_at ON verified_emails(verified_at);
`

// SQLStore is the durable verdict backend. Domain facts are not durable by
// contract (spec §3 "lifetime = TTL"), so SQLStore delegates that half of
// the Store interface to an in-memory facts cache.
type SQLStore struct {
	db    *sql.DB
	facts *MemoryStore
}

// OpenSQLStore connects to dsn (a postgres:// URL, matching the teacher's
// DATABASE_URL) and ensures the schema exists.
func OpenSQLStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("verdictstore: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("verdictstore: ping postgres: %w", err)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		return nil, fmt.Errorf("verdictstore: migrate schema: %w", err)
	}
	return &SQLStore{db: db, facts: NewMemoryStore()}, nil
}

func domainOf(normalized string) string {
	for i := len(normalized) - 1; i >= 0; i-- {
		if normalized[i] == '@' {
			return normalized[i+1:]
		}
	}
	return ""
}

func (s *SQLStore) Get(ctx context.Context, normalized string) (Record, time.Duration, bool) {
	row := s.db.QueryRowContext(ctx, `
		SELECT normalized, reachability, is_deliverable, is_catch_all, is_disposable,
		       is_role, is_free, mx_host, smtp_code, smtp_message, provider,
		       verified_at, error
		FROM verified_emails WHERE email = $1`, normalized)

	var rec Record
	var deliverable sql.NullBool
	var mxHost, smtpMessage, provider, errStr sql.NullString
	err := row.Scan(&rec.Normalized, &rec.Reachability, &deliverable, &rec.CatchAll,
		&rec.Disposable, &rec.Role, &rec.Free, &mxHost, &rec.SMTPCode, &smtpMessage,
		&provider, &rec.VerifiedAt, &errStr)
	if err != nil {
		return Record{}, 0, false
	}
	if deliverable.Valid {
		v := deliverable.Bool
		rec.Deliverable = &v
	}
	rec.MXHost = mxHost.String
	rec.SMTPMessage = smtpMessage.String
	rec.Provider = provider.String
	rec.Error = errStr.String

	return rec, time.Since(rec.VerifiedAt), true
}

func (s *SQLStore) Put(ctx context.Context, rec Record) error {
	if rec.VerifiedAt.IsZero() {
		return fmt.Errorf("verdictstore: Put requires VerifiedAt")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verified_emails(
			email, normalized, reachability, is_deliverable, is_catch_all,
			is_disposable, is_role, is_free, mx_host, smtp_code, smtp_message,
			provider, domain, verified_at, error
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (email) DO UPDATE SET
			reachability = EXCLUDED.reachability,
			is_deliverable = EXCLUDED.is_deliverable,
			is_catch_all = EXCLUDED.is_catch_all,
			is_disposable = EXCLUDED.is_disposable,
			is_role = EXCLUDED.is_role,
			is_free = EXCLUDED.is_free,
			mx_host = EXCLUDED.mx_host,
			smtp_code = EXCLUDED.smtp_code,
			smtp_message = EXCLUDED.smtp_message,
			provider = EXCLUDED.provider,
			domain = EXCLUDED.domain,
			verified_at = EXCLUDED.verified_at,
			error = EXCLUDED.error
		WHERE verified_emails.verified_at <= EXCLUDED.verified_at
	`,
		rec.Normalized, rec.Normalized, rec.Reachability, rec.Deliverable, rec.CatchAll,
		rec.Disposable, rec.Role, rec.Free, rec.MXHost, rec.SMTPCode, rec.SMTPMessage,
		rec.Provider, domainOf(rec.Normalized), rec.VerifiedAt, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("verdictstore: put: %w", err)
	}
	return nil
}

func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByReachability: make(map[Reachability]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT reachability, COUNT(*) FROM verified_emails GROUP BY reachability`)
	if err != nil {
		return st, fmt.Errorf("verdictstore: stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r Reachability
		var n int
		if err := rows.Scan(&r, &n); err != nil {
			return st, err
		}
		st.ByReachability[r] = n
		st.Total += n
	}

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM verified_emails WHERE is_catch_all`)
	if err := row.Scan(&st.CatchAllCount); err != nil {
		return st, fmt.Errorf("verdictstore: catch-all count: %w", err)
	}
	return st, nil
}

func (s *SQLStore) Scan(ctx context.Context, filter Filter) ([]Record, error) {
	query := `SELECT normalized, reachability, is_deliverable, is_catch_all, is_disposable,
		is_role, is_free, mx_host, smtp_code, smtp_message, provider, verified_at, error
		FROM verified_emails WHERE 1=1`
	var args []interface{}
	n := 1
	if filter.Reachability != "" {
		query += fmt.Sprintf(" AND reachability = $%d", n)
		args = append(args, filter.Reachability)
		n++
	}
	if filter.Domain != "" {
		query += fmt.Sprintf(" AND domain = $%d", n)
		args = append(args, filter.Domain)
		n++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND verified_at >= $%d", n)
		args = append(args, filter.Since)
		n++
	}
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("verdictstore: scan: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var deliverable sql.NullBool
		var mxHost, smtpMessage, provider, errStr sql.NullString
		if err := rows.Scan(&rec.Normalized, &rec.Reachability, &deliverable, &rec.CatchAll,
			&rec.Disposable, &rec.Role, &rec.Free, &mxHost, &rec.SMTPCode, &smtpMessage,
			&provider, &rec.VerifiedAt, &errStr); err != nil {
			return nil, err
		}
		if deliverable.Valid {
			v := deliverable.Bool
			rec.Deliverable = &v
		}
		rec.MXHost = mxHost.String
		rec.SMTPMessage = smtpMessage.String
		rec.Provider = provider.String
		rec.Error = errStr.String
		out = append(out, rec)
	}
	return out, nil
}

func (s *SQLStore) GetDomainFacts(ctx context.Context, domain string) (DomainFacts, bool) {
	return s.facts.GetDomainFacts(ctx, domain)
}

func (s *SQLStore) PutDomainFacts(ctx context.Context, facts DomainFacts) error {
	return s.facts.PutDomainFacts(ctx, facts)
}

func (s *SQLStore) Ready(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

// Close releases the underlying database connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
