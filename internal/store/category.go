package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/civicdesk/apiserver/types"
)

// CategoryRepository handles persistence for issue categories.
// Categories are seeded reference data and are read-only at runtime.
type CategoryRepository struct {
	db *sql.DB
}

func NewCategoryRepository(db *sql.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

func (r *CategoryRepository) ListActive(ctx context.Context) ([]types.Category, error) {
	const query = `
		SELECT id, name, description, department, active
		FROM categories
		WHERE active
		ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []types.Category
	for rows.Next() {
		var category types.Category
		if err := rows.Scan(
			&category.ID,
			&category.Name,
			&category.Description,
			&category.Department,
			&category.Active,
		); err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	return categories, rows.Err()
}

func (r *CategoryRepository) Get(ctx context.Context, id int) (types.Category, error) {
	const query = `
		SELECT id, name, description, department, active
		FROM categories
		WHERE id = $1`
	var category types.Category
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&category.ID,
		&category.Name,
		&category.Description,
		&category.Department,
		&category.Active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Category{}, ErrNotFound
		}
		return types.Category{}, err
	}
	return category, nil
}
