package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
)

const productColumns = `id, name, description, price, image_url, category_id, category, brand_id, brand, stock, created_at`

const discountColumns = `id, code, scope, target_id, percentage, starts_at, ends_at, status, usage_count, max_usage`

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return getProduct(ctx, s.db, id)
}

func (s *Store) GetDeliveryMethod(ctx context.Context, id int64) (*domain.DeliveryMethod, error) {
	query := `SELECT id, name, delivery_time, description, price FROM delivery_methods WHERE id = $1`

	var d domain.DeliveryMethod
	err := s.db.QueryRowContext(ctx, query, id).Scan(&d.ID, &d.Name, &d.DeliveryTime, &d.Description, &d.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrDeliveryMethodNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query delivery method: %w", err)
	}
	return &d, nil
}

func (s *Store) GetDiscount(ctx context.Context, id int64) (*domain.Discount, error) {
	query := `SELECT ` + discountColumns + ` FROM discounts WHERE id = $1`
	return scanDiscount(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) GetDiscountByCode(ctx context.Context, code string) (*domain.Discount, error) {
	query := `SELECT ` + discountColumns + ` FROM discounts WHERE code = $1`
	return scanDiscount(s.db.QueryRowContext(ctx, query, code))
}

// SaveProduct inserts or replaces a catalog product.
func (s *Store) SaveProduct(ctx context.Context, p *domain.Product) error {
	query := `INSERT INTO products (` + productColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	          ON CONFLICT (id) DO UPDATE SET
	              name = EXCLUDED.name, description = EXCLUDED.description, price = EXCLUDED.price,
	              image_url = EXCLUDED.image_url, category_id = EXCLUDED.category_id, category = EXCLUDED.category,
	              brand_id = EXCLUDED.brand_id, brand = EXCLUDED.brand, stock = EXCLUDED.stock`

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = nowUTC()
	}
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.Name, p.Description, p.Price, p.ImageURL,
		p.CategoryID, p.Category, p.BrandID, p.Brand, p.Stock, formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("save product: %w", err)
	}
	return nil
}

func (s *Store) SaveDeliveryMethod(ctx context.Context, d *domain.DeliveryMethod) error {
	query := `INSERT INTO delivery_methods (id, name, delivery_time, description, price)
	          VALUES ($1, $2, $3, $4, $5)
	          ON CONFLICT (id) DO UPDATE SET
	              name = EXCLUDED.name, delivery_time = EXCLUDED.delivery_time,
	              description = EXCLUDED.description, price = EXCLUDED.price`

	if _, err := s.db.ExecContext(ctx, query, d.ID, d.Name, d.DeliveryTime, d.Description, d.Price); err != nil {
		return fmt.Errorf("save delivery method: %w", err)
	}
	return nil
}

func (s *Store) SaveDiscount(ctx context.Context, d *domain.Discount) error {
	query := `INSERT INTO discounts (` + discountColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	          ON CONFLICT (id) DO UPDATE SET
	              code = EXCLUDED.code, scope = EXCLUDED.scope, target_id = EXCLUDED.target_id,
	              percentage = EXCLUDED.percentage, starts_at = EXCLUDED.starts_at, ends_at = EXCLUDED.ends_at,
	              status = EXCLUDED.status, usage_count = EXCLUDED.usage_count, max_usage = EXCLUDED.max_usage`

	var maxUsage sql.NullInt64
	if d.MaxUsage != nil {
		maxUsage = sql.NullInt64{Int64: int64(*d.MaxUsage), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		d.ID, d.Code, string(d.Scope), d.TargetID, d.Percentage,
		formatTime(d.StartsAt), nullableTime(d.EndsAt), string(d.Status), d.UsageCount, maxUsage)
	if err != nil {
		return fmt.Errorf("save discount: %w", err)
	}
	return nil
}

func getProduct(ctx context.Context, q queryer, id int64) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	var (
		p         domain.Product
		createdAt timestamp
	)
	err := q.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Price,
		&p.ImageURL,
		&p.CategoryID,
		&p.Category,
		&p.BrandID,
		&p.Brand,
		&p.Stock,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	p.CreatedAt = createdAt.Time
	return &p, nil
}

func scanDiscount(row *sql.Row) (*domain.Discount, error) {
	var (
		d        domain.Discount
		scope    string
		status   string
		startsAt timestamp
		endsAt   timestamp
		maxUsage sql.NullInt64
	)
	err := row.Scan(
		&d.ID,
		&d.Code,
		&scope,
		&d.TargetID,
		&d.Percentage,
		&startsAt,
		&endsAt,
		&status,
		&d.UsageCount,
		&maxUsage,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrDiscountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query discount: %w", err)
	}

	d.Scope = domain.DiscountScope(scope)
	d.Status = domain.DiscountStatus(status)
	d.StartsAt = startsAt.Time
	d.EndsAt = endsAt.ptr()
	if maxUsage.Valid {
		n := int(maxUsage.Int64)
		d.MaxUsage = &n
	}
	return &d, nil
}
