// Package sqlite is a registry.Registry persisted in a SQLite database.
//
// Assets and their contract bindings live in two tables; deleting an asset
// cascades to its binding.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/mattn/go-sqlite3"

	"github.com/agentstation/assetsync/pkg/constants"
	"github.com/agentstation/assetsync/pkg/errors"
	"github.com/agentstation/assetsync/pkg/logging"
	"github.com/agentstation/assetsync/pkg/registry"
	"github.com/agentstation/assetsync/pkg/tree"
)

// Store is a SQLite-backed registry.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ registry.Registry = (*Store)(nil)

// Open opens (and migrates) the database at path. ":memory:" opens a
// private in-memory database.
func Open(path string) (*Store, error) {
	isMemoryDB := path == ":memory:" || strings.HasPrefix(path, "file::memory:")
	if !isMemoryDB {
		if err := os.MkdirAll(filepath.Dir(path), constants.DirPermissions); err != nil {
			return nil, errors.WrapIO("create", filepath.Dir(path), err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.WrapResource("open", "registry", path, err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.WrapResource("configure", "registry", path, err)
		}
	}

	// SQLite serializes writers; one connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, errors.WrapResource("migrate", "registry", path, err)
	}

	logging.Debug().Str("path", path).Msg("Opened SQLite registry")
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create implements registry.Registry.
func (s *Store) Create(ctx context.Context, resource tree.Resource, binding tree.PolicyBinding) error {
	props, err := json.Marshal(resource.Properties)
	if err != nil {
		return errors.WrapResource("create", "asset", resource.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("create", resource.ID, err)
	}
	//nolint:errcheck
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM assets WHERE id = ?`, resource.ID).Scan(&exists)
	switch {
	case err == nil:
		return errors.WrapResource("create", "asset", resource.ID, errors.ErrAlreadyExists)
	case !errors.Is(err, sql.ErrNoRows):
		return classify("create", resource.ID, err)
	}

	now := s.now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO assets (id, content_type, properties, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		resource.ID, resource.ContentType, string(props), now, now,
	); err != nil {
		return classify("create", resource.ID, err)
	}

	p := binding.Policies()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO contract_bindings (asset_id, chain, access_policy_id, contract_policy_id) VALUES (?, ?, ?, ?)`,
		resource.ID, binding.Key(), p.AccessPolicyID, p.ContractPolicyID,
	); err != nil {
		return classify("bind", resource.ID, err)
	}

	return classify("create", resource.ID, tx.Commit())
}

// Update implements registry.Registry. The binding is left untouched.
func (s *Store) Update(ctx context.Context, resource tree.Resource) error {
	props, err := json.Marshal(resource.Properties)
	if err != nil {
		return errors.WrapResource("update", "asset", resource.ID, err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE assets SET content_type = ?, properties = ?, updated_at = ? WHERE id = ?`,
		resource.ContentType, string(props), s.now().UTC(), resource.ID,
	)
	if err != nil {
		return classify("update", resource.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("asset", resource.ID)
	}
	return nil
}

// Delete implements registry.Registry.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM assets WHERE id = ?`, id)
	if err != nil {
		return classify("delete", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("asset", id)
	}
	return nil
}

// List implements registry.Registry.
func (s *Store) List(ctx context.Context) ([]registry.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.content_type, a.properties, a.created_at, a.updated_at,
		       b.chain, b.access_policy_id, b.contract_policy_id
		FROM assets a
		LEFT JOIN contract_bindings b ON b.asset_id = a.id
		ORDER BY a.id`)
	if err != nil {
		return nil, classify("list", "", err)
	}
	defer rows.Close()

	var records []registry.Record
	for rows.Next() {
		var (
			rec                        registry.Record
			props                      string
			chainKey, access, contract sql.NullString
		)
		if err := rows.Scan(
			&rec.Resource.ID, &rec.Resource.ContentType, &props, &rec.CreatedAt, &rec.UpdatedAt,
			&chainKey, &access, &contract,
		); err != nil {
			return nil, classify("list", "", err)
		}
		if err := json.Unmarshal([]byte(props), &rec.Resource.Properties); err != nil {
			return nil, errors.WrapParse("json", rec.Resource.ID, err)
		}
		if chainKey.Valid {
			chain, err := tree.ParseKey(chainKey.String)
			if err != nil {
				return nil, errors.WrapParse("chain", rec.Resource.ID, err)
			}
			rec.Binding = tree.Bind(chain, tree.Policies{
				AccessPolicyID:   access.String,
				ContractPolicyID: contract.String,
			})
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list", "", err)
	}
	return records, nil
}

// classify maps SQLite result codes onto the registry sentinels.
func classify(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch {
		case se.Code == sqlite3.ErrConstraint && se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return errors.WrapResource(op, "asset", id, fmt.Errorf("%w: %w", errors.ErrAlreadyExists, err))
		case se.Code == sqlite3.ErrConstraint && se.ExtendedCode == sqlite3.ErrConstraintUnique:
			return errors.WrapResource(op, "asset", id, fmt.Errorf("%w: %w", errors.ErrDuplicateKeys, err))
		case se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked:
			return errors.WrapResource(op, "asset", id, fmt.Errorf("%w: %w", errors.ErrLeased, err))
		}
	}
	return errors.WrapResource(op, "asset", id, err)
}
