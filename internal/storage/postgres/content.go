package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"agentsync/internal/domain"
)

const uniqueViolation = "23505"

type ContentStore struct {
	db *sqlx.DB
	tx *TransactionManager
}

func NewContentStore(db *sqlx.DB) *ContentStore {
	return &ContentStore{db: db, tx: NewTransactionManager(db)}
}

type contentRow struct {
	domain.ContentItem
	ToolIDs     pq.Int64Array  `db:"tool_ids"`
	CategoryIDs pq.Int64Array  `db:"category_ids"`
	Topics      pq.StringArray `db:"topics"`
}

func (r contentRow) item() domain.ContentItem {
	item := r.ContentItem
	item.ToolIDs = []int64(r.ToolIDs)
	item.CategoryIDs = []int64(r.CategoryIDs)
	item.Topics = []string(r.Topics)
	return item
}

const contentSelect = `
	SELECT
		ci.id, ci.project_id, ci.agent_id, ci.external_id, ci.title, ci.author,
		ci.permalink, ci.thumbnail_url, ci.score, ci.comment_count, ci.view_count,
		ci.like_count, ci.raw_payload, ci.moderation_status, ci.moderation_reason,
		ci.moderation_result, ci.moderated_at, ci.topics, ci.manually_edited,
		ci.published_at, ci.created_at, ci.updated_at,
		ARRAY(SELECT t.tool_id FROM content_item_tools t WHERE t.item_id = ci.id ORDER BY t.position) AS tool_ids,
		ARRAY(SELECT c.category_id FROM content_item_categories c WHERE c.item_id = ci.id ORDER BY c.position) AS category_ids
	FROM content_items ci`

func (s *ContentStore) GetByExternalID(ctx context.Context, externalID string) (*domain.ContentItem, error) {
	var row contentRow
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &row, contentSelect+` WHERE ci.external_id = $1`, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	item := row.item()
	return &item, nil
}

func (s *ContentStore) ListByAgent(ctx context.Context, agentID int64) ([]domain.ContentItem, error) {
	var rows []contentRow
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &rows, contentSelect+` WHERE ci.agent_id = $1 ORDER BY ci.id`, agentID)
	if err != nil {
		return nil, err
	}

	items := make([]domain.ContentItem, len(rows))
	for i, r := range rows {
		items[i] = r.item()
	}
	return items, nil
}

// Create inserts the project and its content item. A second insert of the
// same external id fails with domain.ErrDuplicateItem.
func (s *ContentStore) Create(ctx context.Context, project *domain.Project, item *domain.ContentItem) error {
	return s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		exec := GetExecutor(ctx, s.db)

		projectQuery := `
			INSERT INTO projects (owner_account_id, title, description, url, image_url, video_url, video_hero)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`
		err := exec.QueryRowxContext(ctx, projectQuery,
			project.OwnerAccountID,
			project.Title,
			project.Description,
			project.URL,
			project.ImageURL,
			project.VideoURL,
			project.VideoHero,
		).Scan(&project.ID)
		if err != nil {
			return fmt.Errorf("insert project: %w", err)
		}

		item.ProjectID = project.ID
		itemQuery := `
			INSERT INTO content_items (
				project_id, agent_id, external_id, title, author, permalink, thumbnail_url,
				score, comment_count, view_count, like_count, raw_payload,
				moderation_status, moderation_reason, moderation_result, moderated_at,
				topics, manually_edited, published_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19
			)
			RETURNING id, created_at, updated_at`
		err = exec.QueryRowxContext(ctx, itemQuery,
			item.ProjectID,
			item.AgentID,
			item.ExternalID,
			item.Title,
			item.Author,
			item.Permalink,
			item.ThumbnailURL,
			item.Score,
			item.CommentCount,
			item.ViewCount,
			item.LikeCount,
			jsonb(item.RawPayload),
			item.ModerationStatus,
			item.ModerationReason,
			jsonb(item.ModerationResult),
			item.ModeratedAt,
			pq.StringArray(nonNil(item.Topics)),
			item.ManuallyEdited,
			item.PublishedAt,
		).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("external id %s: %w", item.ExternalID, domain.ErrDuplicateItem)
		}
		if err != nil {
			return fmt.Errorf("insert content item: %w", err)
		}

		return linkTaxonomy(ctx, exec, item.ID, item.ToolIDs, item.CategoryIDs)
	})
}

// UpdateMetrics refreshes counters and the thumbnail on the item and its
// project.
func (s *ContentStore) UpdateMetrics(ctx context.Context, item *domain.ContentItem) error {
	return s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		exec := GetExecutor(ctx, s.db)

		query := `
			UPDATE content_items SET
				score = $2,
				comment_count = $3,
				view_count = $4,
				like_count = $5,
				thumbnail_url = $6,
				raw_payload = $7,
				updated_at = now()
			WHERE id = $1`
		_, err := exec.ExecContext(ctx, query,
			item.ID,
			item.Score,
			item.CommentCount,
			item.ViewCount,
			item.LikeCount,
			item.ThumbnailURL,
			jsonb(item.RawPayload),
		)
		if err != nil {
			return fmt.Errorf("update content item: %w", err)
		}

		_, err = exec.ExecContext(ctx,
			`UPDATE projects SET image_url = $2, updated_at = now() WHERE id = $1 AND $2 <> ''`,
			item.ProjectID, item.ThumbnailURL,
		)
		if err != nil {
			return fmt.Errorf("update project: %w", err)
		}
		return nil
	})
}

// SetTags replaces the item's tags. It returns domain.ErrManuallyEdited and
// writes nothing when the item was edited by hand.
func (s *ContentStore) SetTags(ctx context.Context, itemID int64, tags domain.Tags) error {
	return s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		exec := GetExecutor(ctx, s.db)

		res, err := exec.ExecContext(ctx,
			`UPDATE content_items SET topics = $2, updated_at = now() WHERE id = $1 AND NOT manually_edited`,
			itemID, pq.StringArray(nonNil(tags.Topics)),
		)
		if err != nil {
			return fmt.Errorf("update topics: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("item %d: %w", itemID, domain.ErrManuallyEdited)
		}

		if _, err := exec.ExecContext(ctx, `DELETE FROM content_item_tools WHERE item_id = $1`, itemID); err != nil {
			return fmt.Errorf("clear tools: %w", err)
		}
		if _, err := exec.ExecContext(ctx, `DELETE FROM content_item_categories WHERE item_id = $1`, itemID); err != nil {
			return fmt.Errorf("clear categories: %w", err)
		}
		return linkTaxonomy(ctx, exec, itemID, tags.ToolIDs, tags.CategoryIDs)
	})
}

// MarkEdited records a manual edit of the item's tags.
func (s *ContentStore) MarkEdited(ctx context.Context, itemID int64, tags domain.Tags) error {
	return s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		exec := GetExecutor(ctx, s.db)

		if _, err := exec.ExecContext(ctx, `DELETE FROM content_item_tools WHERE item_id = $1`, itemID); err != nil {
			return err
		}
		if _, err := exec.ExecContext(ctx, `DELETE FROM content_item_categories WHERE item_id = $1`, itemID); err != nil {
			return err
		}
		_, err := exec.ExecContext(ctx,
			`UPDATE content_items SET topics = $2, manually_edited = TRUE, updated_at = now() WHERE id = $1`,
			itemID, pq.StringArray(nonNil(tags.Topics)),
		)
		if err != nil {
			return err
		}
		return linkTaxonomy(ctx, exec, itemID, tags.ToolIDs, tags.CategoryIDs)
	})
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// jsonb passes raw JSON as text so lib/pq does not encode it as bytea.
func jsonb(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
