// Package repository holds the PostgreSQL-backed collaborators: the provider
// config store and the account linker.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ITspirit/vanilla/internal/domain"
	"github.com/ITspirit/vanilla/internal/flow"
)

// Compile-time interface assertions.
var (
	_ flow.ProviderStore = (*PostgresProviderRepo)(nil)
	_ flow.AccountLinker = (*PostgresAccountRepo)(nil)
)

// PostgresProviderRepo loads provider registrations.
type PostgresProviderRepo struct {
	db *pgxpool.Pool
}

func NewPostgresProviderRepo(pool *pgxpool.Pool) *PostgresProviderRepo {
	return &PostgresProviderRepo{db: pool}
}

const providerColumns = `id, key, display_name, icon_url, authorize_url, token_url, profile_url,
client_id, client_secret, scope, prompt, field_mapping, authorize_params, token_params,
profile_params, content_type, active, is_default, bearer_token, allow_access_tokens,
created_at, updated_at`

// GetProviderByKey returns the provider registered under key, or nil when
// no such registration exists.
func (r *PostgresProviderRepo) GetProviderByKey(ctx context.Context, key string) (*domain.ProviderConfig, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+providerColumns+` FROM provider_configs WHERE key = $1`, key)
	cfg, err := scanProvider(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get provider: %w", err)
	}
	return cfg, nil
}

// GetAllProviders returns every registered provider, active or not.
func (r *PostgresProviderRepo) GetAllProviders(ctx context.Context) ([]domain.ProviderConfig, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+providerColumns+` FROM provider_configs ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var configs []domain.ProviderConfig
	for rows.Next() {
		cfg, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		configs = append(configs, *cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	return configs, nil
}

// GetDefaultProvider returns the active provider flagged as default, or nil.
func (r *PostgresProviderRepo) GetDefaultProvider(ctx context.Context) (*domain.ProviderConfig, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+providerColumns+` FROM provider_configs WHERE is_default AND active LIMIT 1`)
	cfg, err := scanProvider(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get default provider: %w", err)
	}
	return cfg, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProvider(row rowScanner) (*domain.ProviderConfig, error) {
	var (
		cfg             domain.ProviderConfig
		fieldMapping    []byte
		authorizeParams []byte
		tokenParams     []byte
		profileParams   []byte
	)
	if err := row.Scan(
		&cfg.ID,
		&cfg.Key,
		&cfg.DisplayName,
		&cfg.IconURL,
		&cfg.AuthorizeURL,
		&cfg.TokenURL,
		&cfg.ProfileURL,
		&cfg.ClientID,
		&cfg.ClientSecret,
		&cfg.Scope,
		&cfg.Prompt,
		&fieldMapping,
		&authorizeParams,
		&tokenParams,
		&profileParams,
		&cfg.ContentType,
		&cfg.Active,
		&cfg.IsDefault,
		&cfg.BearerToken,
		&cfg.AllowAccessTokens,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(fieldMapping) > 0 {
		if err := json.Unmarshal(fieldMapping, &cfg.FieldMapping); err != nil {
			return nil, fmt.Errorf("decode field mapping: %w", err)
		}
	}
	for _, col := range []struct {
		raw  []byte
		dest *map[string]string
	}{
		{authorizeParams, &cfg.AuthorizeParams},
		{tokenParams, &cfg.TokenParams},
		{profileParams, &cfg.ProfileParams},
	} {
		if len(col.raw) > 0 {
			if err := json.Unmarshal(col.raw, col.dest); err != nil {
				return nil, fmt.Errorf("decode provider params: %w", err)
			}
		}
	}
	return &cfg, nil
}

// PostgresAccountRepo links provider identities to local users.
type PostgresAccountRepo struct {
	db *pgxpool.Pool
}

func NewPostgresAccountRepo(pool *pgxpool.Pool) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: pool}
}

const insertUserSQL = `INSERT INTO users (email, name, full_name, photo_url, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
RETURNING id`

// Connect resolves the provider identity to a local user, creating the user
// on first sight. With SyncExisting set, blank user fields are filled from
// the incoming profile; populated fields are left alone.
func (r *PostgresAccountRepo) Connect(ctx context.Context, uniqueID, providerKey string, p domain.CanonicalProfile, opts domain.LinkOptions) (int64, error) {
	if strings.TrimSpace(uniqueID) == "" {
		return 0, fmt.Errorf("connect: empty unique id")
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin connect: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var userID int64
	err = tx.QueryRow(ctx,
		`SELECT user_id FROM linked_identities WHERE provider_key = $1 AND unique_id = $2`,
		providerKey, uniqueID,
	).Scan(&userID)

	switch {
	case err == nil:
		if opts.SyncExisting {
			if err := syncBlankFields(ctx, tx, userID, p); err != nil {
				return 0, err
			}
		}
	case errors.Is(err, pgx.ErrNoRows):
		now := time.Now().UTC()
		if err := tx.QueryRow(ctx, insertUserSQL,
			strings.ToLower(strings.TrimSpace(p.Email)),
			p.Name,
			p.FullName,
			p.Photo,
			now,
		).Scan(&userID); err != nil {
			return 0, fmt.Errorf("create user: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO linked_identities (provider_key, unique_id, user_id, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $4)`,
			providerKey, uniqueID, userID, now,
		); err != nil {
			return 0, fmt.Errorf("link identity: %w", err)
		}
	default:
		return 0, fmt.Errorf("lookup identity: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit connect: %w", err)
	}
	return userID, nil
}

func syncBlankFields(ctx context.Context, tx pgx.Tx, userID int64, p domain.CanonicalProfile) error {
	_, err := tx.Exec(ctx,
		`UPDATE users SET
			email = CASE WHEN email = '' AND $2 <> '' THEN $2 ELSE email END,
			name = CASE WHEN name = '' AND $3 <> '' THEN $3 ELSE name END,
			full_name = CASE WHEN full_name = '' AND $4 <> '' THEN $4 ELSE full_name END,
			photo_url = CASE WHEN photo_url = '' AND $5 <> '' THEN $5 ELSE photo_url END,
			updated_at = $6
		 WHERE id = $1`,
		userID,
		strings.ToLower(strings.TrimSpace(p.Email)),
		p.Name,
		p.FullName,
		p.Photo,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sync user fields: %w", err)
	}
	return nil
}
