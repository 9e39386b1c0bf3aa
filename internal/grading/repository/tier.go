package repository

import (
	"context"

	"assessengine/internal/common/db"
	"assessengine/internal/grading/model"
)

// TierRepository reads the tiers configured for a domain.
type TierRepository interface {
	ListByDomain(ctx context.Context, tx db.Transaction, domainID int64) ([]model.Tier, error)
}

type MySQLTierRepository struct {
	db db.Database
}

func NewTierRepository(database db.Database) *MySQLTierRepository {
	return &MySQLTierRepository{db: database}
}

func (r *MySQLTierRepository) ListByDomain(ctx context.Context, tx db.Transaction, domainID int64) ([]model.Tier, error) {
	query := "SELECT id, domain_id, level, name FROM tiers WHERE domain_id = ? ORDER BY level"
	rows, err := db.GetQuerier(r.db, tx).Query(ctx, query, domainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiers []model.Tier
	for rows.Next() {
		var t model.Tier
		if err := rows.Scan(&t.ID, &t.DomainID, &t.Level, &t.Name); err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

// TierLevels indexes tier ids by level.
func TierLevels(tiers []model.Tier) map[int]int64 {
	out := make(map[int]int64, len(tiers))
	for _, t := range tiers {
		out[t.Level] = t.ID
	}
	return out
}
