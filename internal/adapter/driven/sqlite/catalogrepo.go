package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ericfisherdev/vpnsync/internal/domain/model"
	"github.com/ericfisherdev/vpnsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CatalogStore = (*CatalogRepo)(nil)

const metaStreamingBaseURL = "streaming_resource_base_url"

// CatalogRepo is the SQLite implementation of the CatalogStore port.
type CatalogRepo struct {
	db *DB
}

// NewCatalogRepo creates a new CatalogRepo backed by the given DB.
func NewCatalogRepo(db *DB) *CatalogRepo {
	return &CatalogRepo{db: db}
}

// ReplaceServers upserts servers and drops cached servers at or below maxTier
// that the download no longer contains, in a single transaction.
func (r *CatalogRepo) ReplaceServers(ctx context.Context, servers []model.Server, maxTier model.PlanTier) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const upsertQuery = `
		INSERT INTO servers (id, name, entry_country, exit_country, city, domain, tier, features, load, score, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			entry_country = excluded.entry_country,
			exit_country = excluded.exit_country,
			city = excluded.city,
			domain = excluded.domain,
			tier = excluded.tier,
			features = excluded.features,
			load = excluded.load,
			score = excluded.score,
			status = excluded.status,
			updated_at = CURRENT_TIMESTAMP
	`

	keep := make(map[string]struct{}, len(servers))
	for _, s := range servers {
		keep[s.ID] = struct{}{}
		if _, err := tx.ExecContext(ctx, upsertQuery,
			s.ID, s.Name, s.EntryCountry, s.ExitCountry, s.City, s.Domain,
			int(s.Tier), int(s.Features), s.Load, s.Score, int(s.Status),
		); err != nil {
			return fmt.Errorf("upsert server %s: %w", s.ID, err)
		}
	}

	stale, err := staleServerIDs(ctx, tx, maxTier, keep)
	if err != nil {
		return err
	}

	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete server %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit servers: %w", err)
	}

	return nil
}

func staleServerIDs(ctx context.Context, tx *sql.Tx, maxTier model.PlanTier, keep map[string]struct{}) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM servers WHERE tier <= ?`, int(maxTier))
	if err != nil {
		return nil, fmt.Errorf("list servers up to tier %d: %w", maxTier, err)
	}
	defer rows.Close()

	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan server id: %w", err)
		}
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate server ids: %w", err)
	}

	return stale, nil
}

// UpdateLoads applies load, score and status to known servers.
func (r *CatalogRepo) UpdateLoads(ctx context.Context, loads []model.ServerLoad) (int, error) {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const query = `UPDATE servers SET load = ?, score = ?, status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	var updated int
	for _, l := range loads {
		res, err := tx.ExecContext(ctx, query, l.Load, l.Score, int(l.Status), l.ID)
		if err != nil {
			return 0, fmt.Errorf("update load for server %s: %w", l.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected for server %s: %w", l.ID, err)
		}
		updated += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit loads: %w", err)
	}

	return updated, nil
}

// ListServers returns every cached server ordered by name.
func (r *CatalogRepo) ListServers(ctx context.Context) ([]model.Server, error) {
	const query = `
		SELECT id, name, entry_country, exit_country, city, domain, tier, features, load, score, status, updated_at
		FROM servers
		ORDER BY name
	`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var servers []model.Server
	for rows.Next() {
		var (
			s                      model.Server
			tier, features, status int
			updatedAt              string
		)
		if err := rows.Scan(
			&s.ID, &s.Name, &s.EntryCountry, &s.ExitCountry, &s.City, &s.Domain,
			&tier, &features, &s.Load, &s.Score, &status, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		s.Tier = model.PlanTier(tier)
		s.Features = model.ServerFeature(features)
		s.Status = model.ServerStatus(status)

		s.UpdatedAt, err = parseTime(updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parse updated_at for server %s: %w", s.ID, err)
		}

		servers = append(servers, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate servers: %w", err)
	}

	return servers, nil
}

// SaveStreaming replaces the streaming snapshot.
func (r *CatalogRepo) SaveStreaming(ctx context.Context, info model.StreamingInfo) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	if _, err := tx.ExecContext(ctx, `DELETE FROM streaming_services`); err != nil {
		return fmt.Errorf("delete streaming services: %w", err)
	}

	const insertQuery = `INSERT OR REPLACE INTO streaming_services (country, tier, name, icon) VALUES (?, ?, ?, ?)`
	for _, svc := range info.Services {
		if _, err := tx.ExecContext(ctx, insertQuery, svc.Country, int(svc.Tier), svc.Name, svc.Icon); err != nil {
			return fmt.Errorf("insert streaming service %s/%s: %w", svc.Country, svc.Name, err)
		}
	}

	const metaQuery = `
		INSERT INTO catalog_metadata (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := tx.ExecContext(ctx, metaQuery, metaStreamingBaseURL, info.ResourceBaseURL); err != nil {
		return fmt.Errorf("store streaming base url: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit streaming services: %w", err)
	}

	return nil
}

// GetStreaming returns the streaming snapshot, or nil if none was saved.
func (r *CatalogRepo) GetStreaming(ctx context.Context) (*model.StreamingInfo, error) {
	var info model.StreamingInfo

	err := r.db.Reader.QueryRowContext(ctx,
		`SELECT value FROM catalog_metadata WHERE key = ?`, metaStreamingBaseURL,
	).Scan(&info.ResourceBaseURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get streaming base url: %w", err)
	}

	rows, err := r.db.Reader.QueryContext(ctx,
		`SELECT country, tier, name, icon FROM streaming_services ORDER BY country, tier, name`,
	)
	if err != nil {
		return nil, fmt.Errorf("list streaming services: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			svc  model.StreamingService
			tier int
		)
		if err := rows.Scan(&svc.Country, &tier, &svc.Name, &svc.Icon); err != nil {
			return nil, fmt.Errorf("scan streaming service: %w", err)
		}
		svc.Tier = model.PlanTier(tier)
		info.Services = append(info.Services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate streaming services: %w", err)
	}

	return &info, nil
}
