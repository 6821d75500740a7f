// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/peerci/reviewbot/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres is a Store backed by a Postgres database via pgx's database/sql
// driver and sqlx (spec §2.7).
type Postgres struct {
	db *sqlx.DB
}

// OpenPostgres connects to dsn, running goose migrations up to the latest
// version before returning.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.DB, "migrations"); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Postgres{db: db}, nil
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) PRRuns() PRRunStore               { return &pgPRRuns{db: p.db} }
func (p *Postgres) PatchRequests() PatchRequestStore { return &pgPatchRequests{db: p.db} }
func (p *Postgres) Installations() InstallationStore { return &pgInstallations{db: p.db} }
func (p *Postgres) Users() UserStore                 { return &pgUsers{db: p.db} }
func (p *Postgres) Notifications() NotificationStore { return &pgNotifications{db: p.db} }

type pgPRRuns struct{ db *sqlx.DB }

func (s *pgPRRuns) Create(ctx context.Context, run model.PRRun) error {
	findings, err := json.Marshal(run.Findings)
	if err != nil {
		return fmt.Errorf("marshaling findings: %w", err)
	}
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pr_runs (id, repo, pr_number, sha, base_sha, head_ref, installation_id, status, findings, summary, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		run.ID, run.Repo, run.PRNumber, run.SHA, run.BaseSHA, run.HeadRef, run.InstallationID,
		run.Status, findings, summary, run.Error, run.CreatedAt, run.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *pgPRRuns) Get(ctx context.Context, id string) (model.PRRun, error) {
	var row prRunRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM pr_runs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PRRun{}, ErrNotFound
	}
	if err != nil {
		return model.PRRun{}, err
	}
	return row.toModel()
}

func (s *pgPRRuns) GetByKey(ctx context.Context, key model.PRRunKey) (model.PRRun, error) {
	var row prRunRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM pr_runs WHERE repo = $1 AND pr_number = $2 AND sha = $3`,
		key.Repo, key.PRNumber, key.SHA)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PRRun{}, ErrNotFound
	}
	if err != nil {
		return model.PRRun{}, err
	}
	return row.toModel()
}

func (s *pgPRRuns) Update(ctx context.Context, run model.PRRun) error {
	findings, err := json.Marshal(run.Findings)
	if err != nil {
		return fmt.Errorf("marshaling findings: %w", err)
	}
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE pr_runs SET status=$2, findings=$3, summary=$4, error=$5, updated_at=$6 WHERE id=$1`,
		run.ID, run.Status, findings, summary, run.Error, run.UpdatedAt)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

type prRunRow struct {
	ID             string `db:"id"`
	Repo           string `db:"repo"`
	PRNumber       int    `db:"pr_number"`
	SHA            string `db:"sha"`
	BaseSHA        string `db:"base_sha"`
	HeadRef        string `db:"head_ref"`
	InstallationID int64  `db:"installation_id"`
	Status         string `db:"status"`
	Findings       []byte `db:"findings"`
	Summary        []byte `db:"summary"`
	Error          string `db:"error"`
	CreatedAt      sql.NullTime `db:"created_at"`
	UpdatedAt      sql.NullTime `db:"updated_at"`
}

func (r prRunRow) toModel() (model.PRRun, error) {
	run := model.PRRun{
		ID:             r.ID,
		Repo:           r.Repo,
		PRNumber:       r.PRNumber,
		SHA:            r.SHA,
		BaseSHA:        r.BaseSHA,
		HeadRef:        r.HeadRef,
		InstallationID: r.InstallationID,
		Status:         model.RunStatus(r.Status),
		Error:          r.Error,
		CreatedAt:      r.CreatedAt.Time,
		UpdatedAt:      r.UpdatedAt.Time,
	}
	if err := json.Unmarshal(r.Findings, &run.Findings); err != nil {
		return model.PRRun{}, fmt.Errorf("unmarshaling findings: %w", err)
	}
	if err := json.Unmarshal(r.Summary, &run.Summary); err != nil {
		return model.PRRun{}, fmt.Errorf("unmarshaling summary: %w", err)
	}
	return run, nil
}

type pgPatchRequests struct{ db *sqlx.DB }

func (s *pgPatchRequests) Create(ctx context.Context, pr model.PatchRequest) error {
	selected, err := json.Marshal(pr.SelectedFindingIDs)
	if err != nil {
		return fmt.Errorf("marshaling selected finding ids: %w", err)
	}
	preview, err := json.Marshal(pr.Preview)
	if err != nil {
		return fmt.Errorf("marshaling preview: %w", err)
	}
	results, err := json.Marshal(pr.Results)
	if err != nil {
		return fmt.Errorf("marshaling results: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO patch_requests (id, run_id, repo, pr_number, sha, user_id, selected_finding_ids, status, preview, results, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		pr.ID, pr.RunID, pr.Repo, pr.PRNumber, pr.SHA, pr.UserID, selected, pr.Status, preview, results, pr.Error, pr.CreatedAt, pr.UpdatedAt)
	return err
}

func (s *pgPatchRequests) Get(ctx context.Context, id string) (model.PatchRequest, error) {
	var row patchRequestRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM patch_requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PatchRequest{}, ErrNotFound
	}
	if err != nil {
		return model.PatchRequest{}, err
	}
	return row.toModel()
}

func (s *pgPatchRequests) GetByRunID(ctx context.Context, runID string) (model.PatchRequest, error) {
	var row patchRequestRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM patch_requests WHERE run_id = $1`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PatchRequest{}, ErrNotFound
	}
	if err != nil {
		return model.PatchRequest{}, err
	}
	return row.toModel()
}

func (s *pgPatchRequests) Update(ctx context.Context, pr model.PatchRequest) error {
	preview, err := json.Marshal(pr.Preview)
	if err != nil {
		return fmt.Errorf("marshaling preview: %w", err)
	}
	results, err := json.Marshal(pr.Results)
	if err != nil {
		return fmt.Errorf("marshaling results: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE patch_requests SET status=$2, preview=$3, results=$4, error=$5, updated_at=$6 WHERE id=$1`,
		pr.ID, pr.Status, preview, results, pr.Error, pr.UpdatedAt)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

type patchRequestRow struct {
	ID                 string       `db:"id"`
	RunID              string       `db:"run_id"`
	Repo               string       `db:"repo"`
	PRNumber           int          `db:"pr_number"`
	SHA                string       `db:"sha"`
	UserID             string       `db:"user_id"`
	SelectedFindingIDs []byte       `db:"selected_finding_ids"`
	Status             string       `db:"status"`
	Preview            []byte       `db:"preview"`
	Results            []byte       `db:"results"`
	Error              string       `db:"error"`
	CreatedAt          sql.NullTime `db:"created_at"`
	UpdatedAt          sql.NullTime `db:"updated_at"`
}

func (r patchRequestRow) toModel() (model.PatchRequest, error) {
	pr := model.PatchRequest{
		ID:        r.ID,
		RunID:     r.RunID,
		Repo:      r.Repo,
		PRNumber:  r.PRNumber,
		SHA:       r.SHA,
		UserID:    r.UserID,
		Status:    model.PatchStatus(r.Status),
		Error:     r.Error,
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
	}
	if err := json.Unmarshal(r.SelectedFindingIDs, &pr.SelectedFindingIDs); err != nil {
		return model.PatchRequest{}, fmt.Errorf("unmarshaling selected finding ids: %w", err)
	}
	if err := json.Unmarshal(r.Preview, &pr.Preview); err != nil {
		return model.PatchRequest{}, fmt.Errorf("unmarshaling preview: %w", err)
	}
	if err := json.Unmarshal(r.Results, &pr.Results); err != nil {
		return model.PatchRequest{}, fmt.Errorf("unmarshaling results: %w", err)
	}
	return pr, nil
}

type pgInstallations struct{ db *sqlx.DB }

func (s *pgInstallations) Get(ctx context.Context, id string) (model.Installation, error) {
	var row installationRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM installations WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Installation{}, ErrNotFound
	}
	if err != nil {
		return model.Installation{}, err
	}
	return row.toModel()
}

func (s *pgInstallations) GetByExternalID(ctx context.Context, externalID int64) (model.Installation, error) {
	var row installationRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM installations WHERE external_id = $1`, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Installation{}, ErrNotFound
	}
	if err != nil {
		return model.Installation{}, err
	}
	return row.toModel()
}

func (s *pgInstallations) Upsert(ctx context.Context, inst model.Installation) error {
	config, err := json.Marshal(inst.Config)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO installations (id, external_id, owner, config) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET external_id = EXCLUDED.external_id, owner = EXCLUDED.owner, config = EXCLUDED.config`,
		inst.ID, inst.ExternalID, inst.Owner, config)
	return err
}

type installationRow struct {
	ID         string `db:"id"`
	ExternalID int64  `db:"external_id"`
	Owner      string `db:"owner"`
	Config     []byte `db:"config"`
}

func (r installationRow) toModel() (model.Installation, error) {
	inst := model.Installation{ID: r.ID, ExternalID: r.ExternalID, Owner: r.Owner}
	if err := json.Unmarshal(r.Config, &inst.Config); err != nil {
		return model.Installation{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	return inst, nil
}

type pgUsers struct{ db *sqlx.DB }

func (s *pgUsers) Get(ctx context.Context, id string) (model.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	return row.toModel()
}

func (s *pgUsers) Update(ctx context.Context, user model.User) error {
	apiKeys, err := json.Marshal(user.APIKeys)
	if err != nil {
		return fmt.Errorf("marshaling api keys: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, token_limit, tokens_used, purchased_tokens, api_keys) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET token_limit = EXCLUDED.token_limit, tokens_used = EXCLUDED.tokens_used,
			purchased_tokens = EXCLUDED.purchased_tokens, api_keys = EXCLUDED.api_keys`,
		user.ID, user.TokenLimit, user.TokensUsed, user.PurchasedTokens, apiKeys)
	return err
}

type userRow struct {
	ID              string `db:"id"`
	TokenLimit      int64  `db:"token_limit"`
	TokensUsed      int64  `db:"tokens_used"`
	PurchasedTokens int64  `db:"purchased_tokens"`
	APIKeys         []byte `db:"api_keys"`
}

func (r userRow) toModel() (model.User, error) {
	user := model.User{ID: r.ID, TokenLimit: r.TokenLimit, TokensUsed: r.TokensUsed, PurchasedTokens: r.PurchasedTokens}
	if err := json.Unmarshal(r.APIKeys, &user.APIKeys); err != nil {
		return model.User{}, fmt.Errorf("unmarshaling api keys: %w", err)
	}
	return user, nil
}

type pgNotifications struct{ db *sqlx.DB }

func (s *pgNotifications) Create(ctx context.Context, n model.Notification) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO notifications (id, user_id, kind, message) VALUES ($1, $2, $3, $4)`,
		n.ID, n.UserID, n.Kind, n.Message)
	return err
}

func (s *pgNotifications) ListForUser(ctx context.Context, userID string) ([]model.Notification, error) {
	var notifications []model.Notification
	err := s.db.SelectContext(ctx, &notifications, `SELECT id, user_id AS "userid", kind, message FROM notifications WHERE user_id = $1`, userID)
	return notifications, err
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505), without importing pgconn directly so callers
// stay on the database/sql error surface.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqlErr interface{ SQLState() string }
	if errors.As(err, &sqlErr) {
		return sqlErr.SQLState() == "23505"
	}
	return false
}
