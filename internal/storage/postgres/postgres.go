// Package postgres is the durable Store backend, grounded on the
// teacher's internal/storage/postgres package: a single *sql.DB wrapped
// by repository-shaped methods, migrations applied at startup.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"gateway/internal/domain"
)

var ErrNotFound = errors.New("not found")
var ErrAuthCodeConsumed = errors.New("auth code already consumed")

// Store is the Postgres-backed implementation of storage.Store.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and applies migrations, matching the teacher's
// db.go startup sequence (connect, ping, migrate).
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate creates the tables named in spec §6 "Persisted state", plus
// oauth_clients, the ledger_debits idempotency table, the
// mcp_tool_servers bookkeeping table and audit_log.
func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			email TEXT,
			active BOOLEAN NOT NULL DEFAULT true
		)`,
		`CREATE TABLE IF NOT EXISTS user_keys (
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			ciphertext BYTEA NOT NULL,
			nonce BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE(user_id, provider)
		)`,
		`CREATE TABLE IF NOT EXISTS tokens (
			token TEXT PRIMARY KEY,
			refresh_token TEXT,
			user_id TEXT NOT NULL,
			client_id TEXT,
			scopes TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			expires_in_seconds BIGINT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS tokens_refresh_idx ON tokens(refresh_token) WHERE refresh_token IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS auth_codes (
			code TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			redirect_uri TEXT NOT NULL,
			scopes TEXT[] NOT NULL DEFAULT '{}',
			code_challenge TEXT NOT NULL,
			code_challenge_method TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			consumed BOOLEAN NOT NULL DEFAULT false
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_clients (
			id TEXT PRIMARY KEY,
			secret_hash TEXT,
			redirect_uris TEXT[] NOT NULL DEFAULT '{}',
			grant_types TEXT[] NOT NULL DEFAULT '{}',
			access_token_ttl_seconds BIGINT NOT NULL,
			refresh_token_ttl_seconds BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS wallets (
			user_id TEXT PRIMARY KEY,
			balance_tokens BIGINT NOT NULL DEFAULT 0,
			monthly_usage_tokens BIGINT NOT NULL DEFAULT 0,
			last_reset_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			active BOOLEAN NOT NULL DEFAULT true
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_debits (
			request_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			debited_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS usage (
			request_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			prompt_tokens INTEGER NOT NULL,
			completion_tokens INTEGER NOT NULL,
			total_tokens INTEGER NOT NULL,
			cost_cents DOUBLE PRECISION,
			platform_fee_cents DOUBLE PRECISION,
			payment_method TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS payments (
			payment_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			kind TEXT,
			amount_cents BIGINT NOT NULL,
			currency TEXT NOT NULL,
			raw JSONB,
			processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS mcp_tool_servers (
			name TEXT PRIMARY KEY,
			transport TEXT NOT NULL,
			command TEXT,
			args TEXT[] NOT NULL DEFAULT '{}',
			image TEXT,
			url TEXT,
			timeout_ms INTEGER,
			auto_start BOOLEAN NOT NULL DEFAULT true,
			startup_retries INTEGER NOT NULL DEFAULT 3,
			startup_delay_ms INTEGER NOT NULL DEFAULT 500,
			state TEXT NOT NULL DEFAULT 'stopped',
			last_error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			occurred_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			action TEXT NOT NULL,
			actor_id TEXT,
			actor_kind TEXT,
			resource TEXT,
			status TEXT NOT NULL,
			details JSONB,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS audit_log_occurred_at_idx ON audit_log(occurred_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// --- TokenRepository ---

func (s *Store) PutToken(ctx context.Context, t *domain.AccessToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (token, refresh_token, user_id, client_id, scopes, created_at, expires_in_seconds)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (token) DO UPDATE SET refresh_token=$2, scopes=$5`,
		t.Token, nullable(t.RefreshToken), t.UserID, t.ClientID, pq.Array(t.Scopes), t.CreatedAt, int64(t.ExpiresIn.Seconds()))
	return err
}

func (s *Store) GetToken(ctx context.Context, token string) (*domain.AccessToken, error) {
	return s.scanToken(ctx, `SELECT token, refresh_token, user_id, client_id, scopes, created_at, expires_in_seconds FROM tokens WHERE token=$1`, token)
}

func (s *Store) GetTokenByRefresh(ctx context.Context, refreshToken string) (*domain.AccessToken, error) {
	return s.scanToken(ctx, `SELECT token, refresh_token, user_id, client_id, scopes, created_at, expires_in_seconds FROM tokens WHERE refresh_token=$1`, refreshToken)
}

func (s *Store) scanToken(ctx context.Context, query string, arg string) (*domain.AccessToken, error) {
	row := s.db.QueryRowContext(ctx, query, arg)
	var t domain.AccessToken
	var refresh sql.NullString
	var scopes []string
	var expiresSec int64
	if err := row.Scan(&t.Token, &refresh, &t.UserID, &t.ClientID, pq.Array(&scopes), &t.CreatedAt, &expiresSec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.RefreshToken = refresh.String
	t.Scopes = scopes
	t.ExpiresIn = time.Duration(expiresSec) * time.Second
	return &t, nil
}

func (s *Store) RevokeToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE token=$1`, token)
	return err
}

// --- AuthCodeRepository ---

func (s *Store) PutAuthCode(ctx context.Context, c *domain.AuthCode) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_codes (code, client_id, user_id, redirect_uri, scopes, code_challenge, code_challenge_method, expires_at, consumed)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,false)`,
		c.Code, c.ClientID, c.UserID, c.RedirectURI, pq.Array(c.Scopes), c.CodeChallenge, c.CodeChallengeMethod, c.ExpiresAt)
	return err
}

// ConsumeAuthCode marks the code consumed in a single atomic statement so
// a race between two exchanges can only let one succeed (spec §5, §8).
func (s *Store) ConsumeAuthCode(ctx context.Context, code string) (*domain.AuthCode, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE auth_codes SET consumed=true
		WHERE code=$1 AND consumed=false AND expires_at > now()
		RETURNING code, client_id, user_id, redirect_uri, scopes, code_challenge, code_challenge_method, expires_at`,
		code)

	var c domain.AuthCode
	var scopes []string
	if err := row.Scan(&c.Code, &c.ClientID, &c.UserID, &c.RedirectURI, pq.Array(&scopes), &c.CodeChallenge, &c.CodeChallengeMethod, &c.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			_ = s.db.QueryRowContext(ctx, `SELECT true FROM auth_codes WHERE code=$1`, code).Scan(&exists)
			if exists {
				return nil, ErrAuthCodeConsumed
			}
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.Scopes = scopes
	c.Consumed = true
	return &c, nil
}

// --- OAuthClientRepository ---

func (s *Store) CreateClient(ctx context.Context, c *domain.OAuthClient) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_clients (id, secret_hash, redirect_uris, grant_types, access_token_ttl_seconds, refresh_token_ttl_seconds, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		c.ID, nullable(c.SecretHash), pq.Array(c.RedirectURIs), pq.Array(c.GrantTypes),
		int64(c.AccessTokenTTL.Seconds()), int64(c.RefreshTokenTTL.Seconds()), c.CreatedAt)
	return err
}

func (s *Store) GetClient(ctx context.Context, id string) (*domain.OAuthClient, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, secret_hash, redirect_uris, grant_types, access_token_ttl_seconds, refresh_token_ttl_seconds, created_at
		FROM oauth_clients WHERE id=$1`, id)
	var c domain.OAuthClient
	var secretHash sql.NullString
	var atTTL, rtTTL int64
	var redirects, grants []string
	if err := row.Scan(&c.ID, &secretHash, pq.Array(&redirects), pq.Array(&grants), &atTTL, &rtTTL, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.SecretHash = secretHash.String
	c.RedirectURIs = redirects
	c.GrantTypes = grants
	c.AccessTokenTTL = time.Duration(atTTL) * time.Second
	c.RefreshTokenTTL = time.Duration(rtTTL) * time.Second
	return &c, nil
}

// --- SecretRepository ---
// Every statement is parameterized by user_id; there is no query path
// here that can cross user boundaries (spec §4.D, §8).

func (s *Store) PutSecret(ctx context.Context, userID, provider string, ciphertext, nonce []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_keys (user_id, provider, ciphertext, nonce, created_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (user_id, provider) DO UPDATE SET ciphertext=$3, nonce=$4, created_at=now()`,
		userID, provider, ciphertext, nonce)
	return err
}

func (s *Store) GetSecret(ctx context.Context, userID, provider string) (*domain.UserKey, error) {
	row := s.db.QueryRowContext(ctx, `SELECT user_id, provider, ciphertext, nonce, created_at FROM user_keys WHERE user_id=$1 AND provider=$2`, userID, provider)
	var k domain.UserKey
	if err := row.Scan(&k.UserID, &k.Provider, &k.Ciphertext, &k.Nonce, &k.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &k, nil
}

func (s *Store) ListSecretProviders(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT provider FROM user_keys WHERE user_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSecret(ctx context.Context, userID, provider string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_keys WHERE user_id=$1 AND provider=$2`, userID, provider)
	return err
}

// --- WalletRepository ---

func (s *Store) GetWallet(ctx context.Context, userID string) (*domain.WalletState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT user_id, balance_tokens, monthly_usage_tokens, last_reset_at, active FROM wallets WHERE user_id=$1`, userID)
	var w domain.WalletState
	if err := row.Scan(&w.UserID, &w.BalanceTokens, &w.MonthlyUsageTokens, &w.LastResetAt, &w.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.WalletState{UserID: userID, Active: true, LastResetAt: time.Now()}, nil
		}
		return nil, err
	}
	return &w, nil
}

func (s *Store) Precheck(ctx context.Context, userID string, costTokens int64) (*domain.PrecheckResult, error) {
	w, err := s.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if w.BalanceTokens < costTokens {
		return &domain.PrecheckResult{Allowed: false, Reason: "insufficient_balance"}, nil
	}
	return &domain.PrecheckResult{
		Allowed:      true,
		BalanceAfter: w.BalanceTokens - costTokens,
		UsageAfter:   w.MonthlyUsageTokens + costTokens,
	}, nil
}

// Debit is idempotent by request_id: the usage row's primary key makes a
// second insert a no-op, and the balance mutation only happens when that
// insert actually took place (spec §4.J, §5, §8).
func (s *Store) Debit(ctx context.Context, userID string, costTokens int64, requestID string) (*domain.WalletState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var already bool
	if err := tx.QueryRowContext(ctx, `SELECT true FROM ledger_debits WHERE request_id=$1`, requestID).Scan(&already); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance_tokens, monthly_usage_tokens, last_reset_at, active)
		VALUES ($1,0,0,now(),true) ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return nil, err
	}

	if !already {
		res, err := tx.ExecContext(ctx, `
			UPDATE wallets SET balance_tokens = balance_tokens - $2, monthly_usage_tokens = monthly_usage_tokens + $2
			WHERE user_id=$1 AND balance_tokens >= $2`, userID, costTokens)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, errors.New("insufficient_balance")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_debits (request_id, user_id) VALUES ($1,$2)
			ON CONFLICT (request_id) DO NOTHING`, requestID, userID); err != nil {
			return nil, err
		}
	}

	var w domain.WalletState
	row := tx.QueryRowContext(ctx, `SELECT user_id, balance_tokens, monthly_usage_tokens, last_reset_at, active FROM wallets WHERE user_id=$1`, userID)
	if err := row.Scan(&w.UserID, &w.BalanceTokens, &w.MonthlyUsageTokens, &w.LastResetAt, &w.Active); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &w, nil
}

// Credit is idempotent by payment_id via the payments table's primary key.
func (s *Store) Credit(ctx context.Context, userID string, tokens int64, paymentID string, amountCents int64, currency string, raw []byte) (*domain.WalletState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (payment_id, user_id, amount_cents, currency, raw, processed_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (payment_id) DO NOTHING`, paymentID, userID, amountCents, currency, raw)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance_tokens, monthly_usage_tokens, last_reset_at, active)
		VALUES ($1,0,0,now(),true) ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE wallets SET balance_tokens = balance_tokens + $2
		WHERE user_id=$1 AND EXISTS (SELECT 1 FROM payments WHERE payment_id=$3 AND processed_at >= now() - interval '1 second')`,
		userID, tokens, paymentID)
	_ = res

	var w domain.WalletState
	row := tx.QueryRowContext(ctx, `SELECT user_id, balance_tokens, monthly_usage_tokens, last_reset_at, active FROM wallets WHERE user_id=$1`, userID)
	if err := row.Scan(&w.UserID, &w.BalanceTokens, &w.MonthlyUsageTokens, &w.LastResetAt, &w.Active); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &w, nil
}

// --- UsageRepository ---

func (s *Store) RecordUsage(ctx context.Context, rec *domain.UsageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage (request_id, user_id, provider, model, prompt_tokens, completion_tokens, total_tokens, cost_cents, platform_fee_cents, payment_method, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (request_id) DO NOTHING`,
		rec.RequestID, rec.UserID, rec.Provider, rec.Model, rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
		rec.CostCents, rec.PlatformFeeCents, string(rec.PaymentMethod), rec.Timestamp)
	return err
}

func (s *Store) GetUsage(ctx context.Context, requestID string) (*domain.UsageRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT request_id, user_id, provider, model, prompt_tokens, completion_tokens, total_tokens, cost_cents, platform_fee_cents, payment_method, timestamp
		FROM usage WHERE request_id=$1`, requestID)
	var rec domain.UsageRecord
	var method string
	if err := row.Scan(&rec.RequestID, &rec.UserID, &rec.Provider, &rec.Model, &rec.PromptTokens, &rec.CompletionTokens, &rec.TotalTokens,
		&rec.CostCents, &rec.PlatformFeeCents, &method, &rec.Timestamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec.PaymentMethod = domain.PaymentMethod(method)
	return &rec, nil
}

// --- ToolServerRepository ---

func (s *Store) ListToolServers(ctx context.Context) ([]*domain.RemoteToolServer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, transport, command, args, image, url, timeout_ms, auto_start, startup_retries, startup_delay_ms, state, last_error FROM mcp_tool_servers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.RemoteToolServer
	for rows.Next() {
		var ts domain.RemoteToolServer
		var command, image, url, lastError sql.NullString
		var timeoutMS sql.NullInt32
		var args []string
		if err := rows.Scan(&ts.Name, &ts.Transport, &command, pq.Array(&args), &image, &url, &timeoutMS,
			&ts.AutoStart, &ts.StartupRetries, &ts.StartupDelayMS, &ts.State, &lastError); err != nil {
			return nil, err
		}
		ts.Command = command.String
		ts.Image = image.String
		ts.URL = url.String
		ts.TimeoutMS = int(timeoutMS.Int32)
		ts.Args = args
		ts.LastError = lastError.String
		out = append(out, &ts)
	}
	return out, rows.Err()
}

func (s *Store) UpsertToolServer(ctx context.Context, ts *domain.RemoteToolServer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mcp_tool_servers (name, transport, command, args, image, url, timeout_ms, auto_start, startup_retries, startup_delay_ms, state, last_error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (name) DO UPDATE SET transport=$2, command=$3, args=$4, image=$5, url=$6, timeout_ms=$7,
			auto_start=$8, startup_retries=$9, startup_delay_ms=$10, state=$11, last_error=$12`,
		ts.Name, string(ts.Transport), nullable(ts.Command), pq.Array(ts.Args), nullable(ts.Image), nullable(ts.URL),
		ts.TimeoutMS, ts.AutoStart, ts.StartupRetries, ts.StartupDelayMS, string(ts.State), nullable(ts.LastError))
	return err
}

func (s *Store) DeleteToolServer(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM mcp_tool_servers WHERE name=$1`, name)
	return err
}

// --- AuditRepository ---

func (s *Store) AppendAudit(ctx context.Context, entry *domain.AuditLog) error {
	id := entry.ID
	if id == "" {
		id = uuid.NewString()
	}
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, action, actor_id, actor_kind, resource, status, details, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		id, string(entry.Action), nullable(entry.ActorID), nullable(entry.ActorKind),
		nullable(entry.Resource), entry.Status, details, nullable(entry.Error))
	return err
}

func (s *Store) ListAudit(ctx context.Context, limit int) ([]*domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, occurred_at, action, actor_id, actor_kind, resource, status, details, error
		FROM audit_log ORDER BY occurred_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		var a domain.AuditLog
		var actorID, actorKind, resource, errMsg sql.NullString
		var details []byte
		if err := rows.Scan(&a.ID, &a.OccurredAt, &a.Action, &actorID, &actorKind, &resource, &a.Status, &details, &errMsg); err != nil {
			return nil, err
		}
		a.ActorID = actorID.String
		a.ActorKind = actorKind.String
		a.Resource = resource.String
		a.Error = errMsg.String
		if len(details) > 0 {
			_ = json.Unmarshal(details, &a.Details)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// --- health / lifecycle ---

func (s *Store) Health() domain.SecretStoreHealth {
	h := domain.SecretStoreHealth{Connected: s.db.Ping() == nil}
	_ = s.db.QueryRow(`SELECT count(DISTINCT user_id) FROM user_keys`).Scan(&h.Users)
	_ = s.db.QueryRow(`SELECT count(*) FROM user_keys`).Scan(&h.Secrets)
	_ = s.db.QueryRow(`SELECT count(DISTINCT provider) FROM user_keys`).Scan(&h.Providers)
	return h
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying connection pool so optional subsystems
// (the semantic response cache) can run their own migrations and
// queries against the same database without a second dial.
func (s *Store) DB() *sql.DB { return s.db }

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
