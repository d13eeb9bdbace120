package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"agentsync/internal/domain"
)

type AgentStore struct {
	db *sqlx.DB
}

func NewAgentStore(db *sqlx.DB) *AgentStore {
	return &AgentStore{db: db}
}

const agentColumns = `
	a.id, a.platform, a.source_identifier, a.owner_account_id, a.config, a.status,
	a.last_synced_at, a.last_sync_status, a.last_sync_error, a.created_at, a.updated_at`

// EnsureAccount returns the id of the agent-owned account with username,
// creating it when missing.
func (s *AgentStore) EnsureAccount(ctx context.Context, username string) (int64, error) {
	query := `
		INSERT INTO accounts (username, is_agent)
		VALUES ($1, TRUE)
		ON CONFLICT (username) DO UPDATE SET username = EXCLUDED.username
		RETURNING id`

	var id int64
	if err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &id, query, username); err != nil {
		return 0, fmt.Errorf("ensure account: %w", err)
	}
	return id, nil
}

func (s *AgentStore) Create(ctx context.Context, agent *domain.SourceAgent) error {
	if agent.Status == "" {
		agent.Status = domain.AgentActive
	}

	query := `
		INSERT INTO source_agents (platform, source_identifier, owner_account_id, config, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	row := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		agent.Platform,
		agent.SourceIdentifier,
		agent.OwnerAccountID,
		agent.Config,
		agent.Status,
	)
	if err := row.Scan(&agent.ID, &agent.CreatedAt, &agent.UpdatedAt); err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

func (s *AgentStore) Get(ctx context.Context, id int64) (*domain.SourceAgent, error) {
	var agent domain.SourceAgent
	query := `SELECT` + agentColumns + ` FROM source_agents a WHERE a.id = $1`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &agent, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent %d: %w", id, domain.ErrAgentNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

// List returns every agent, optionally restricted to one platform.
func (s *AgentStore) List(ctx context.Context, platform domain.Platform) ([]domain.SourceAgent, error) {
	query := `SELECT` + agentColumns + `
		FROM source_agents a
		WHERE ($1::text = '' OR a.platform = $1)
		ORDER BY a.platform, a.id`

	var agents []domain.SourceAgent
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &agents, query, platform)
	return agents, err
}

func (s *AgentStore) ListActive(ctx context.Context, platform domain.Platform) ([]domain.SourceAgent, error) {
	query := `SELECT` + agentColumns + `
		FROM source_agents a
		INNER JOIN accounts acc ON acc.id = a.owner_account_id
		WHERE a.status = 'active'
		  AND acc.is_active
		  AND ($1::text = '' OR a.platform = $1)
		ORDER BY a.last_synced_at ASC NULLS FIRST, a.id`

	var agents []domain.SourceAgent
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &agents, query, platform)
	return agents, err
}

func (s *AgentStore) SetStatus(ctx context.Context, id int64, status domain.AgentStatus) error {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`UPDATE source_agents SET status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return err
	}
	return expectRow(res, id)
}

func expectRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("agent %d: %w", id, domain.ErrAgentNotFound)
	}
	return nil
}
