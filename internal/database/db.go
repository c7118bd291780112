package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/catherinevee/depmgr/internal/graph"
	"github.com/catherinevee/depmgr/internal/models"
	deperrors "github.com/catherinevee/depmgr/internal/shared/errors"
)

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

// Store is the SQLite-backed graph writer
type Store struct {
	conn *sql.DB
}

// Config represents database configuration
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// DefaultConfig returns default database configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Path:        filepath.Join(homeDir, ".depmgr", "depmgr.db"),
		BusyTimeout: 5 * time.Second,
	}
}

// New opens the database and creates the schema
func New(config *Config) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}

	dsn := config.Path
	if config.Path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		busy := config.BusyTimeout
		if busy <= 0 {
			busy = 5 * time.Second
		}
		dsn = fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)", config.Path, busy.Milliseconds())
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection serializes writers and keeps :memory: a single database
	conn.SetMaxOpenConns(1)

	store := &Store{conn: conn}
	if err := store.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS services (
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		display_name TEXT,
		resource_type TEXT NOT NULL,
		sub_type TEXT,
		provider TEXT NOT NULL,
		region TEXT,
		zone TEXT,
		cloud_resource_id TEXT,
		endpoint TEXT,
		status TEXT,
		metadata TEXT,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, name)
	);
	CREATE INDEX IF NOT EXISTS idx_services_provider ON services(user_id, provider);

	CREATE TABLE IF NOT EXISTS dependencies (
		user_id TEXT NOT NULL,
		from_service TEXT NOT NULL,
		to_service TEXT NOT NULL,
		dependency_type TEXT NOT NULL,
		confidence REAL NOT NULL,
		discovered_from TEXT NOT NULL,
		detail TEXT,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, from_service, to_service, dependency_type)
	);
	CREATE INDEX IF NOT EXISTS idx_dependencies_to ON dependencies(user_id, to_service);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.conn.Close()
}

// WriteServices upserts services on (user_id, name). A stored name stays
// bound to its cloud resource: a record for a different resource under the
// same name is skipped and reported.
func (s *Store) WriteServices(ctx context.Context, userID string, services []models.ServiceNode) (int, error) {
	written := 0
	var conflicts []string
	err := s.execute(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO services (user_id, name, display_name, resource_type, sub_type, provider, region, zone,
				cloud_resource_id, endpoint, status, metadata, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(user_id, name) DO UPDATE SET
				display_name = excluded.display_name,
				resource_type = excluded.resource_type,
				sub_type = excluded.sub_type,
				provider = excluded.provider,
				region = excluded.region,
				zone = excluded.zone,
				cloud_resource_id = COALESCE(NULLIF(excluded.cloud_resource_id, ''), services.cloud_resource_id),
				endpoint = excluded.endpoint,
				status = excluded.status,
				metadata = excluded.metadata,
				updated_at = CURRENT_TIMESTAMP
			WHERE COALESCE(services.cloud_resource_id, '') = ''
				OR excluded.cloud_resource_id = ''
				OR services.cloud_resource_id = excluded.cloud_resource_id
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, svc := range services {
			meta, err := json.Marshal(svc.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata of %s: %w", svc.Name, err)
			}
			res, err := stmt.ExecContext(ctx, userID, svc.Name, svc.DisplayName, string(svc.ResourceType), svc.SubType,
				svc.Provider, svc.Region, svc.Zone, svc.CloudResourceID, svc.Endpoint, svc.Status, string(meta))
			if err != nil {
				return fmt.Errorf("upsert service %s: %w", svc.Name, err)
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				conflicts = append(conflicts, svc.Name)
				continue
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, deperrors.NewWriteFailure("write services", err)
	}
	return written, graph.NameConflict(conflicts)
}

// StoredNames implements graph.NameStore
func (s *Store) StoredNames(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT cloud_resource_id, name FROM services
		WHERE user_id = ? AND cloud_resource_id IS NOT NULL AND cloud_resource_id != ''
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stored names: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan stored name: %w", err)
		}
		out[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stored names: %w", err)
	}
	return out, nil
}

// WriteDependencies upserts edges on (user_id, from, to, type), keeping the
// highest confidence and the union of discovered_from
func (s *Store) WriteDependencies(ctx context.Context, userID string, edges []models.DependencyEdge) (int, error) {
	written := 0
	err := s.execute(ctx, func(tx *sql.Tx) error {
		for _, e := range edges {
			stored, err := loadEdge(ctx, tx, userID, e.Key())
			if err != nil {
				return err
			}
			merged := graph.MergeEdge(stored, e)
			sources, err := json.Marshal(merged.DiscoveredFrom)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO dependencies (user_id, from_service, to_service, dependency_type, confidence, discovered_from, detail, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
				ON CONFLICT(user_id, from_service, to_service, dependency_type) DO UPDATE SET
					confidence = excluded.confidence,
					discovered_from = excluded.discovered_from,
					detail = excluded.detail,
					updated_at = CURRENT_TIMESTAMP
			`, userID, merged.FromService, merged.ToService, string(merged.DependencyType), merged.Confidence,
				string(sources), merged.Detail); err != nil {
				return fmt.Errorf("upsert dependency %s -> %s: %w", e.FromService, e.ToService, err)
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, deperrors.NewWriteFailure("write dependencies", err)
	}
	return written, nil
}

func loadEdge(ctx context.Context, tx *sql.Tx, userID string, key models.EdgeKey) (models.DependencyEdge, error) {
	var (
		edge    models.DependencyEdge
		sources string
		detail  sql.NullString
	)
	err := tx.QueryRowContext(ctx, `
		SELECT confidence, discovered_from, detail FROM dependencies
		WHERE user_id = ? AND from_service = ? AND to_service = ? AND dependency_type = ?
	`, userID, key.From, key.To, string(key.Type)).Scan(&edge.Confidence, &sources, &detail)
	if err == sql.ErrNoRows {
		return models.DependencyEdge{}, nil
	}
	if err != nil {
		return models.DependencyEdge{}, fmt.Errorf("load dependency %s -> %s: %w", key.From, key.To, err)
	}
	if err := json.Unmarshal([]byte(sources), &edge.DiscoveredFrom); err != nil {
		return models.DependencyEdge{}, fmt.Errorf("decode discovered_from: %w", err)
	}
	edge.FromService, edge.ToService, edge.DependencyType = key.From, key.To, key.Type
	edge.Detail = detail.String
	return edge, nil
}

// LoadGraph reads every stored service and dependency of a user
func (s *Store) LoadGraph(ctx context.Context, userID string) (*graph.DependencyGraph, error) {
	services, err := s.services(ctx, userID)
	if err != nil {
		return nil, err
	}
	edges, err := s.dependencies(ctx, userID)
	if err != nil {
		return nil, err
	}
	return graph.NewDependencyGraph(services, edges), nil
}

func (s *Store) services(ctx context.Context, userID string) ([]models.ServiceNode, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT name, display_name, resource_type, sub_type, provider, region, zone, cloud_resource_id, endpoint, status, metadata
		FROM services WHERE user_id = ? ORDER BY provider, name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query services: %w", err)
	}
	defer rows.Close()

	var out []models.ServiceNode
	for rows.Next() {
		var svc models.ServiceNode
		var resourceType string
		var display, subType, region, zone, id, endpoint, status, meta sql.NullString
		if err := rows.Scan(&svc.Name, &display, &resourceType, &subType, &svc.Provider, &region, &zone, &id,
			&endpoint, &status, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		svc.ResourceType = models.ResourceType(resourceType)
		svc.DisplayName, svc.SubType, svc.Region, svc.Zone = display.String, subType.String, region.String, zone.String
		svc.CloudResourceID, svc.Endpoint, svc.Status = id.String, endpoint.String, status.String
		if meta.Valid && meta.String != "" && meta.String != "null" {
			if err := json.Unmarshal([]byte(meta.String), &svc.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata of %s: %w", svc.Name, err)
			}
		}
		out = append(out, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating services: %w", err)
	}
	return out, nil
}

func (s *Store) dependencies(ctx context.Context, userID string) ([]models.DependencyEdge, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT from_service, to_service, dependency_type, confidence, discovered_from, detail
		FROM dependencies WHERE user_id = ? ORDER BY from_service, to_service, dependency_type
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	var out []models.DependencyEdge
	for rows.Next() {
		var (
			e       models.DependencyEdge
			depType string
			sources string
			detail  sql.NullString
		)
		if err := rows.Scan(&e.FromService, &e.ToService, &depType, &e.Confidence, &sources, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		if err := json.Unmarshal([]byte(sources), &e.DiscoveredFrom); err != nil {
			return nil, fmt.Errorf("failed to decode discovered_from: %w", err)
		}
		e.DependencyType = models.DependencyType(depType)
		e.Detail = detail.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}
	return out, nil
}

// execute runs fn in a transaction, rolling back on error
func (s *Store) execute(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

var (
	_ graph.Writer    = (*Store)(nil)
	_ graph.Reader    = (*Store)(nil)
	_ graph.NameStore = (*Store)(nil)
)
