package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
)

const orderColumns = `id, buyer_email, subtotal, shipping_address, delivery_method, items, payment_intent_id,
	discount_code, discount_value, status, version, created_at, updated_at`

func nowUTC() time.Time {
	return time.Now().UTC()
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return scanOrder(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) GetOrderByIntent(ctx context.Context, intentID string) (*domain.Order, error) {
	return getOrderByIntent(ctx, s.db, intentID)
}

// ListOrdersByBuyer returns the buyer's orders, newest first.
func (s *Store) ListOrdersByBuyer(ctx context.Context, buyerEmail string) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE buyer_email = $1 ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, buyerEmail)
	if err != nil {
		return nil, fmt.Errorf("query orders by buyer: %w", err)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return orders, nil
}

func (t *Tx) GetOrderByIntent(ctx context.Context, intentID string) (*domain.Order, error) {
	return getOrderByIntent(ctx, t.tx, intentID)
}

// DeletePendingOrderByIntent hard-deletes the order bound to intentID while it
// is still Pending. Settled orders are never removed.
func (t *Tx) DeletePendingOrderByIntent(ctx context.Context, intentID string) (bool, error) {
	result, err := t.tx.ExecContext(ctx,
		`DELETE FROM orders WHERE payment_intent_id = $1 AND status = $2`,
		intentID, string(domain.OrderStatusPending))
	if err != nil {
		return false, fmt.Errorf("delete order by intent: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (t *Tx) InsertOrder(ctx context.Context, order *domain.Order) error {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal order items: %w", err)
	}
	addressJSON, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("failed to marshal shipping address: %w", err)
	}
	deliveryJSON, err := json.Marshal(order.DeliveryMethod)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery method: %w", err)
	}

	query := `INSERT INTO orders (` + orderColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, insertErr := t.tx.ExecContext(ctx, query,
		order.ID,
		order.BuyerEmail,
		order.Subtotal,
		string(addressJSON),
		string(deliveryJSON),
		string(itemsJSON),
		order.PaymentIntentID,
		order.DiscountCode,
		order.DiscountValue,
		string(order.Status),
		order.Version,
		formatTime(order.CreatedAt),
		formatTime(order.UpdatedAt))

	if insertErr != nil {
		if isUniqueViolation(insertErr) {
			return domain.ErrDuplicateIntent
		}
		return fmt.Errorf("insert order: %w", insertErr)
	}
	return nil
}

// TransitionOrderStatus moves the order from `from` to `to` only if it is
// still in `from`. It reports false when another writer got there first.
func (t *Tx) TransitionOrderStatus(ctx context.Context, orderID string, from, to domain.OrderStatus) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, domain.Wrap(domain.ErrIllegalTransition, "TransitionOrderStatus", fmt.Sprintf("%s -> %s", from, to))
	}

	query := `UPDATE orders SET status = $1, version = version + 1, updated_at = $2
	          WHERE id = $3 AND status = $4`

	result, err := t.tx.ExecContext(ctx, query, string(to), formatTime(nowUTC()), orderID, string(from))
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (t *Tx) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return getProduct(ctx, t.tx, id)
}

// DecrementStock subtracts quantity from the product's stock unless that
// would take it below zero, in which case it reports false.
func (t *Tx) DecrementStock(ctx context.Context, productID int64, quantity int) (bool, error) {
	query := `UPDATE products SET stock = stock - $1 WHERE id = $2 AND stock >= $1`

	result, err := t.tx.ExecContext(ctx, query, quantity, productID)
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (t *Tx) IncrementDiscountUsage(ctx context.Context, code string) error {
	result, err := t.tx.ExecContext(ctx, `UPDATE discounts SET usage_count = usage_count + 1 WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("increment discount usage: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.Wrap(domain.ErrDiscountNotFound, "IncrementDiscountUsage", code)
	}
	return nil
}

func getOrderByIntent(ctx context.Context, q queryer, intentID string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE payment_intent_id = $1`
	return scanOrder(q.QueryRowContext(ctx, query, intentID))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order        domain.Order
		addressJSON  []byte
		deliveryJSON []byte
		itemsJSON    []byte
		status       string
		createdAt    timestamp
		updatedAt    timestamp
	)
	err := row.Scan(
		&order.ID,
		&order.BuyerEmail,
		&order.Subtotal,
		&addressJSON,
		&deliveryJSON,
		&itemsJSON,
		&order.PaymentIntentID,
		&order.DiscountCode,
		&order.DiscountValue,
		&status,
		&order.Version,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}

	if err := json.Unmarshal(addressJSON, &order.ShippingAddress); err != nil {
		return nil, fmt.Errorf("unmarshal shipping address: %w", err)
	}
	if err := json.Unmarshal(deliveryJSON, &order.DeliveryMethod); err != nil {
		return nil, fmt.Errorf("unmarshal delivery method: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}

	order.Status = domain.OrderStatus(status)
	order.CreatedAt = createdAt.Time
	order.UpdatedAt = updatedAt.Time
	return &order, nil
}
