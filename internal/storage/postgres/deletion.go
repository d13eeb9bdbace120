package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"agentsync/internal/domain"
)

// DeletionStore keeps tombstones of rejected external ids.
type DeletionStore struct {
	db *sqlx.DB
}

func NewDeletionStore(db *sqlx.DB) *DeletionStore {
	return &DeletionStore{db: db}
}

func (s *DeletionStore) Exists(ctx context.Context, externalID string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &exists,
		`SELECT EXISTS (SELECT 1 FROM deletion_records WHERE external_id = $1)`,
		externalID,
	)
	return exists, err
}

func (s *DeletionStore) Create(ctx context.Context, record *domain.DeletionRecord) error {
	query := `
		INSERT INTO deletion_records (external_id, agent_id, reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (external_id) DO NOTHING`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, record.ExternalID, record.AgentID, record.Reason)
	return err
}
