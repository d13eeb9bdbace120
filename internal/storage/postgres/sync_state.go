package postgres

import (
	"context"

	"agentsync/internal/domain"
)

func (s *AgentStore) UpdateSyncResult(ctx context.Context, id int64, result domain.SyncResult) error {
	query := `
		UPDATE source_agents SET
			status = $2,
			last_sync_status = $3,
			last_sync_error = $4,
			last_synced_at = COALESCE($5, last_synced_at),
			updated_at = now()
		WHERE id = $1`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		id,
		result.Status,
		result.LastSyncStatus,
		result.LastSyncError,
		result.SyncedAt,
	)
	if err != nil {
		return err
	}
	return expectRow(res, id)
}

// ReactivateErrored flips error agents back to active and returns how many
// changed.
func (s *AgentStore) ReactivateErrored(ctx context.Context, platform domain.Platform) (int64, error) {
	query := `
		UPDATE source_agents SET status = 'active', updated_at = now()
		WHERE status = 'error' AND ($1::text = '' OR platform = $1)`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, platform)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
