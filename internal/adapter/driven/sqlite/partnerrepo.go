package sqlite

import (
	"context"
	"fmt"

	"github.com/ericfisherdev/vpnsync/internal/domain/model"
)

// SavePartners replaces all partner types, partners and their server links.
func (r *CatalogRepo) SavePartners(ctx context.Context, types []model.PartnerType) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	for _, q := range []string{
		`DELETE FROM partner_logicals`,
		`DELETE FROM partners`,
		`DELETE FROM partner_types`,
	} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("clear partners: %w", err)
		}
	}

	const (
		typeQuery    = `INSERT INTO partner_types (type, description, icon_url, position) VALUES (?, ?, ?, ?)`
		partnerQuery = `INSERT INTO partners (type, name, description, icon_url) VALUES (?, ?, ?, ?)`
		logicalQuery = `INSERT OR IGNORE INTO partner_logicals (partner_id, logical_id) VALUES (?, ?)`
	)

	for pos, pt := range types {
		if _, err := tx.ExecContext(ctx, typeQuery, pt.Type, pt.Description, pt.IconURL, pos); err != nil {
			return fmt.Errorf("insert partner type %s: %w", pt.Type, err)
		}

		for _, p := range pt.Partners {
			res, err := tx.ExecContext(ctx, partnerQuery, pt.Type, p.Name, p.Description, p.IconURL)
			if err != nil {
				return fmt.Errorf("insert partner %s: %w", p.Name, err)
			}
			partnerID, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("partner id for %s: %w", p.Name, err)
			}

			for _, id := range p.LogicalIDs {
				if _, err := tx.ExecContext(ctx, logicalQuery, partnerID, id); err != nil {
					return fmt.Errorf("link partner %s to server %s: %w", p.Name, id, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit partners: %w", err)
	}

	return nil
}

// GetPartners returns the cached partner types in download order.
func (r *CatalogRepo) GetPartners(ctx context.Context) ([]model.PartnerType, error) {
	types, err := r.partnerTypes(ctx)
	if err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return types, nil
	}

	logicals, err := r.partnerLogicals(ctx)
	if err != nil {
		return nil, err
	}

	const query = `SELECT id, type, name, description, icon_url FROM partners ORDER BY id`
	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list partners: %w", err)
	}
	defer rows.Close()

	index := make(map[string]int, len(types))
	for i, pt := range types {
		index[pt.Type] = i
	}

	for rows.Next() {
		var (
			id      int64
			typ     string
			partner model.Partner
		)
		if err := rows.Scan(&id, &typ, &partner.Name, &partner.Description, &partner.IconURL); err != nil {
			return nil, fmt.Errorf("scan partner: %w", err)
		}
		partner.LogicalIDs = logicals[id]
		if i, ok := index[typ]; ok {
			types[i].Partners = append(types[i].Partners, partner)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate partners: %w", err)
	}

	return types, nil
}

func (r *CatalogRepo) partnerTypes(ctx context.Context) ([]model.PartnerType, error) {
	rows, err := r.db.Reader.QueryContext(ctx,
		`SELECT type, description, icon_url FROM partner_types ORDER BY position`,
	)
	if err != nil {
		return nil, fmt.Errorf("list partner types: %w", err)
	}
	defer rows.Close()

	types := []model.PartnerType{}
	for rows.Next() {
		var pt model.PartnerType
		if err := rows.Scan(&pt.Type, &pt.Description, &pt.IconURL); err != nil {
			return nil, fmt.Errorf("scan partner type: %w", err)
		}
		types = append(types, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate partner types: %w", err)
	}

	return types, nil
}

func (r *CatalogRepo) partnerLogicals(ctx context.Context) (map[int64][]string, error) {
	rows, err := r.db.Reader.QueryContext(ctx,
		`SELECT partner_id, logical_id FROM partner_logicals ORDER BY partner_id, logical_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list partner servers: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]string)
	for rows.Next() {
		var (
			partnerID int64
			logicalID string
		)
		if err := rows.Scan(&partnerID, &logicalID); err != nil {
			return nil, fmt.Errorf("scan partner server: %w", err)
		}
		out[partnerID] = append(out[partnerID], logicalID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate partner servers: %w", err)
	}

	return out, nil
}
