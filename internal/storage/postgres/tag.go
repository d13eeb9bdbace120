package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"agentsync/internal/domain"
)

type TaxonomyStore struct {
	db *sqlx.DB
}

func NewTaxonomyStore(db *sqlx.DB) *TaxonomyStore {
	return &TaxonomyStore{db: db}
}

func (s *TaxonomyStore) ListTools(ctx context.Context) ([]domain.Tool, error) {
	var tools []domain.Tool
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &tools, `SELECT id, name, slug FROM tools ORDER BY name`)
	return tools, err
}

func (s *TaxonomyStore) ListCategories(ctx context.Context) ([]domain.Category, error) {
	var categories []domain.Category
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &categories, `SELECT id, name, slug FROM categories ORDER BY name`)
	return categories, err
}

// UpsertTools inserts tools by slug, renaming existing ones.
func (s *TaxonomyStore) UpsertTools(ctx context.Context, tools []domain.Tool) error {
	return s.upsertNamed(ctx, "tools", len(tools), func(i int) (string, string) { return tools[i].Name, tools[i].Slug })
}

func (s *TaxonomyStore) UpsertCategories(ctx context.Context, categories []domain.Category) error {
	return s.upsertNamed(ctx, "categories", len(categories), func(i int) (string, string) {
		return categories[i].Name, categories[i].Slug
	})
}

func (s *TaxonomyStore) upsertNamed(ctx context.Context, table string, n int, at func(int) (string, string)) error {
	if n == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO " + table + " (name, slug) VALUES ")
	valueArgs := make([]any, 0, n*2)

	for i := range n {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("($" + strconv.Itoa(i*2+1) + ", $" + strconv.Itoa(i*2+2) + ")")
		name, slug := at(i)
		valueArgs = append(valueArgs, name, slug)
	}
	sb.WriteString(" ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name")

	if _, err := GetExecutor(ctx, s.db).ExecContext(ctx, sb.String(), valueArgs...); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

// linkTaxonomy writes ordered tool and category links for an item.
func linkTaxonomy(ctx context.Context, exec sqlx.ExtContext, itemID int64, toolIDs, categoryIDs []int64) error {
	if err := linkOrdered(ctx, exec, "content_item_tools", "tool_id", itemID, toolIDs); err != nil {
		return fmt.Errorf("link tools: %w", err)
	}
	if err := linkOrdered(ctx, exec, "content_item_categories", "category_id", itemID, categoryIDs); err != nil {
		return fmt.Errorf("link categories: %w", err)
	}
	return nil
}

func linkOrdered(ctx context.Context, exec sqlx.ExtContext, table, column string, itemID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO " + table + " (item_id, " + column + ", position) VALUES ")
	valueArgs := make([]any, 0, len(ids)*2+1)
	valueArgs = append(valueArgs, itemID)

	for i, id := range ids {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("($1, $" + strconv.Itoa(i*2+2) + ", $" + strconv.Itoa(i*2+3) + ")")
		valueArgs = append(valueArgs, id, i)
	}
	sb.WriteString(" ON CONFLICT DO NOTHING")

	_, err := exec.ExecContext(ctx, sb.String(), valueArgs...)
	return err
}
