package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"task-reward-engine/internal/model"
	"task-reward-engine/internal/store"
)

// ProductRepository handles product catalog persistence.
type ProductRepository struct {
	db DBTX
}

// NewProductRepository creates a new ProductRepository instance.
func NewProductRepository(db DBTX) *ProductRepository {
	return &ProductRepository{db: db}
}

func scanProduct(row pgx.Row) (*model.Product, error) {
	var (
		p     model.Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &price, &p.IsActive, &p.CreatedAt); err != nil {
		return nil, err
	}
	v, err := parseDecimal(price)
	if err != nil {
		return nil, err
	}
	p.Price = v
	return &p, nil
}

// ListActive retrieves every active product ordered by ID.
func (r *ProductRepository) ListActive(ctx context.Context) ([]*model.Product, error) {
	const query = `
		SELECT id, name, price::text, is_active, created_at
		FROM products
		WHERE is_active
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get products: %w", err)
	}
	defer rows.Close()

	var products []*model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}

	return products, nil
}

// Get retrieves a product by ID.
func (r *ProductRepository) Get(ctx context.Context, id int64) (*model.Product, error) {
	const query = `SELECT id, name, price::text, is_active, created_at FROM products WHERE id = $1`

	p, err := scanProduct(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

// Create adds a product and fills in its ID.
func (r *ProductRepository) Create(ctx context.Context, p *model.Product) error {
	const query = `
		INSERT INTO products (name, price, is_active, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, created_at
	`

	if err := r.db.QueryRow(ctx, query, p.Name, p.Price.String(), p.IsActive).Scan(&p.ID, &p.CreatedAt); err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}
