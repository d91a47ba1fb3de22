// Package store is the sqlite-backed persistence layer for ServerConfig,
// its environment, and the per-tool enable flags discovered during catalog
// assembly. It is the concrete type satisfying pkg/gateway's ConfigStore.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/config"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/store/migrations"
)

// ErrNotFound is returned when a lookup by id or name finds no row.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when inserting a server whose id or name
// collides with an existing row.
var ErrAlreadyExists = errors.New("already exists")

// Store persists ServerConfig/ToolRecord state in a sqlite database file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and applies
// any pending embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping sqlite db: %w", err)
	}
	if err := applyMigrations(db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateServer inserts cfg and its environment rows in one transaction.
func (s *Store) CreateServer(ctx context.Context, cfg *config.ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	transportJSON, err := marshalTransportConfig(cfg.TransportConfig)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO servers (
		id, name, runtime_kind, install_command, start_command,
		transport_kind, transport_config_json, build_status, image_tag,
		is_active, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.ID, cfg.Name, string(cfg.RuntimeKind), cfg.InstallCommand, cfg.StartCommand,
		string(cfg.TransportKind), transportJSON, string(cfg.BuildStatus), cfg.ImageTag,
		boolToInt(cfg.IsActive), time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("store: server %q: %w", cfg.Name, ErrAlreadyExists)
		}
		return fmt.Errorf("store: insert server: %w", err)
	}

	if err := insertEnv(ctx, tx, cfg.ID, cfg.Env); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateServer replaces every mutable field and the full env list for an
// existing server. It does not touch tools or their enable flags.
func (s *Store) UpdateServer(ctx context.Context, cfg *config.ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	transportJSON, err := marshalTransportConfig(cfg.TransportConfig)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `UPDATE servers SET
		name = ?, runtime_kind = ?, install_command = ?, start_command = ?,
		transport_kind = ?, transport_config_json = ?, is_active = ?
		WHERE id = ?`,
		cfg.Name, string(cfg.RuntimeKind), cfg.InstallCommand, cfg.StartCommand,
		string(cfg.TransportKind), transportJSON, boolToInt(cfg.IsActive), cfg.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("store: server %q: %w", cfg.Name, ErrAlreadyExists)
		}
		return fmt.Errorf("store: update server: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: server %q: %w", cfg.ID, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM server_env WHERE server_id = ?`, cfg.ID); err != nil {
		return fmt.Errorf("store: clear env: %w", err)
	}
	if err := insertEnv(ctx, tx, cfg.ID, cfg.Env); err != nil {
		return err
	}

	return tx.Commit()
}

// SetActive flips is_active for one server, used by the stack file watcher
// to hot-toggle a server without a full redeploy.
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE servers SET is_active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("store: set active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: server %q: %w", id, ErrNotFound)
	}
	return nil
}

// SetBuildStatus records a container image build's outcome.
func (s *Store) SetBuildStatus(ctx context.Context, id string, status config.BuildStatus, imageTag string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE servers SET build_status = ?, image_tag = ? WHERE id = ?`,
		string(status), imageTag, id)
	if err != nil {
		return fmt.Errorf("store: set build status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: server %q: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteServer removes a server and, via ON DELETE CASCADE, its env and
// tool rows.
func (s *Store) DeleteServer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete server: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: server %q: %w", id, ErrNotFound)
	}
	return nil
}

// ServerByID returns one server by id, or ErrNotFound.
func (s *Store) ServerByID(ctx context.Context, id string) (*config.ServerConfig, error) {
	row := s.db.QueryRowContext(ctx, serverSelectSQL+` WHERE id = ?`, id)
	cfg, err := scanServer(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadEnv(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ListServers returns every server, active or not, ordered by creation.
func (s *Store) ListServers(ctx context.Context) ([]*config.ServerConfig, error) {
	return s.queryServers(ctx, serverSelectSQL+` ORDER BY created_at ASC`)
}

// ActiveServers returns every server with is_active = true. This is the
// method pkg/gateway's Router calls to assemble the merged catalog.
func (s *Store) ActiveServers(ctx context.Context) ([]*config.ServerConfig, error) {
	return s.queryServers(ctx, serverSelectSQL+` WHERE is_active = 1 ORDER BY created_at ASC`)
}

func (s *Store) queryServers(ctx context.Context, query string, args ...any) ([]*config.ServerConfig, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query servers: %w", err)
	}
	defer rows.Close()

	var out []*config.ServerConfig
	for rows.Next() {
		cfg, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: scan servers: %w", err)
	}
	for _, cfg := range out {
		if err := s.loadEnv(ctx, cfg); err != nil {
			return nil, err
		}
	}
	return out, nil
}

const serverSelectSQL = `SELECT id, name, runtime_kind, install_command, start_command,
	transport_kind, transport_config_json, build_status, image_tag, is_active FROM servers`

type scanner interface {
	Scan(dest ...any) error
}

func scanServer(row scanner) (*config.ServerConfig, error) {
	var cfg config.ServerConfig
	var transportJSON string
	var isActive int
	err := row.Scan(&cfg.ID, &cfg.Name, &cfg.RuntimeKind, &cfg.InstallCommand, &cfg.StartCommand,
		&cfg.TransportKind, &transportJSON, &cfg.BuildStatus, &cfg.ImageTag, &isActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan server: %w", err)
	}
	cfg.IsActive = isActive != 0
	if transportJSON != "" {
		var tc config.TransportConfig
		if err := json.Unmarshal([]byte(transportJSON), &tc); err != nil {
			return nil, fmt.Errorf("store: decode transport_config for %q: %w", cfg.ID, err)
		}
		cfg.TransportConfig = &tc
	}
	return &cfg, nil
}

func (s *Store) loadEnv(ctx context.Context, cfg *config.ServerConfig) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, is_secret FROM server_env WHERE server_id = ? ORDER BY position ASC`, cfg.ID)
	if err != nil {
		return fmt.Errorf("store: query env: %w", err)
	}
	defer rows.Close()

	cfg.Env = nil
	for rows.Next() {
		var e config.EnvVar
		var isSecret int
		if err := rows.Scan(&e.Key, &e.Value, &isSecret); err != nil {
			return fmt.Errorf("store: scan env: %w", err)
		}
		e.IsSecret = isSecret != 0
		cfg.Env = append(cfg.Env, e)
	}
	return rows.Err()
}

func insertEnv(ctx context.Context, tx *sql.Tx, serverID string, env []config.EnvVar) error {
	for i, e := range env {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO server_env (server_id, key, value, is_secret, position) VALUES (?, ?, ?, ?, ?)`,
			serverID, e.Key, e.Value, boolToInt(e.IsSecret), i,
		); err != nil {
			return fmt.Errorf("store: insert env %q: %w", e.Key, err)
		}
	}
	return nil
}

// ReplaceToolCatalog upserts the tools discovered for serverID, preserving
// each tool's existing is_enabled flag and defaulting new tools to enabled.
// Tools no longer reported by the upstream are removed.
func (s *Store) ReplaceToolCatalog(ctx context.Context, serverID string, tools []config.ToolRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	seen := make(map[string]bool, len(tools))
	for _, t := range tools {
		seen[t.ToolName] = true
		_, err := tx.ExecContext(ctx, `INSERT INTO tools (server_id, tool_name, description, input_schema_json, is_enabled)
			VALUES (?, ?, ?, ?, 1)
			ON CONFLICT(server_id, tool_name) DO UPDATE SET
				description = excluded.description,
				input_schema_json = excluded.input_schema_json`,
			serverID, t.ToolName, t.Description, string(t.InputSchema),
		)
		if err != nil {
			return fmt.Errorf("store: upsert tool %q: %w", t.ToolName, err)
		}
	}

	rows, err := tx.QueryContext(ctx, `SELECT tool_name FROM tools WHERE server_id = ?`, serverID)
	if err != nil {
		return fmt.Errorf("store: list existing tools: %w", err)
	}
	var stale []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("store: scan tool name: %w", err)
		}
		if !seen[name] {
			stale = append(stale, name)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: list existing tools: %w", err)
	}

	for _, name := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tools WHERE server_id = ? AND tool_name = ?`, serverID, name); err != nil {
			return fmt.Errorf("store: delete stale tool %q: %w", name, err)
		}
	}

	return tx.Commit()
}

// ListTools returns every tool recorded for serverID.
func (s *Store) ListTools(ctx context.Context, serverID string) ([]config.ToolRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool_name, description, input_schema_json, is_enabled FROM tools WHERE server_id = ?`, serverID)
	if err != nil {
		return nil, fmt.Errorf("store: list tools: %w", err)
	}
	defer rows.Close()

	var out []config.ToolRecord
	for rows.Next() {
		var t config.ToolRecord
		var schema string
		var enabled int
		if err := rows.Scan(&t.ToolName, &t.Description, &schema, &enabled); err != nil {
			return nil, fmt.Errorf("store: scan tool: %w", err)
		}
		t.ServerID = serverID
		t.InputSchema = json.RawMessage(schema)
		t.IsEnabled = enabled != 0
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetToolEnabled flips a single tool's enable flag.
func (s *Store) SetToolEnabled(ctx context.Context, serverID, toolName string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tools SET is_enabled = ? WHERE server_id = ? AND tool_name = ?`,
		boolToInt(enabled), serverID, toolName)
	if err != nil {
		return fmt.Errorf("store: set tool enabled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: tool %q on server %q: %w", toolName, serverID, ErrNotFound)
	}
	return nil
}

// IsToolEnabled reports a tool's enable flag. A tool not yet recorded (no
// catalog discovery has run, or it predates the upstream adding it) is
// treated as enabled by default, matching spec.md §4.5's catalog-merge
// behavior of including everything unless explicitly disabled.
func (s *Store) IsToolEnabled(ctx context.Context, serverID, toolName string) (bool, error) {
	var enabled int
	err := s.db.QueryRowContext(ctx,
		`SELECT is_enabled FROM tools WHERE server_id = ? AND tool_name = ?`, serverID, toolName,
	).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: is tool enabled: %w", err)
	}
	return enabled != 0, nil
}

func marshalTransportConfig(tc *config.TransportConfig) (string, error) {
	if tc == nil {
		return "", nil
	}
	b, err := json.Marshal(tc)
	if err != nil {
		return "", fmt.Errorf("store: encode transport_config: %w", err)
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
