package store

import (
	"context"
	"database/sql"
	"fmt"

	"ComandaPay/internal/models"

	"github.com/jackc/pgx/v5"
)

func insertOrder(ctx context.Context, tx pgx.Tx, o *models.Order) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO orders (
			id, company_id, customer_name, customer_phone, customer_email,
			delivery_type, delivery_address, table_number, notes, coupon_id,
			status, payment_status, payment_method, payment_provider, payment_reference,
			subtotal, delivery_fee, discount, total, estimated_delivery_time
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULLIF($10,''),$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`,
		o.ID,
		o.CompanyID,
		o.CustomerName,
		o.CustomerPhone,
		o.CustomerEmail,
		o.DeliveryType,
		o.DeliveryAddress,
		o.TableNumber,
		o.Notes,
		o.CouponID,
		o.Status,
		o.PaymentStatus,
		o.PaymentMethod,
		o.PaymentProvider,
		o.PaymentReference,
		o.Subtotal,
		o.DeliveryFee,
		o.Discount,
		o.Total,
		o.EstimatedDeliveryTime,
	)
	return err
}

func insertOrderItem(ctx context.Context, tx pgx.Tx, it *models.OrderItem) error {
	var options any
	if len(it.SelectedOptions) > 0 {
		options = []byte(it.SelectedOptions)
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO order_items (
			id, order_id, product_id, product_name, quantity,
			unit_price, total_price, selected_options, notes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		it.ID,
		it.OrderID,
		it.ProductID,
		it.ProductName,
		it.Quantity,
		it.UnitPrice,
		it.TotalPrice,
		options,
		it.Notes,
	)
	return err
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, company_id, customer_name, customer_phone, customer_email,
			delivery_type, delivery_address, table_number, notes, coupon_id,
			status, payment_status, payment_method, payment_provider, payment_reference,
			subtotal, delivery_fee, discount, total, estimated_delivery_time,
			created_at, updated_at
		FROM orders WHERE id=$1
	`, id)

	var o models.Order
	var couponID sql.NullString
	err := row.Scan(
		&o.ID,
		&o.CompanyID,
		&o.CustomerName,
		&o.CustomerPhone,
		&o.CustomerEmail,
		&o.DeliveryType,
		&o.DeliveryAddress,
		&o.TableNumber,
		&o.Notes,
		&couponID,
		&o.Status,
		&o.PaymentStatus,
		&o.PaymentMethod,
		&o.PaymentProvider,
		&o.PaymentReference,
		&o.Subtotal,
		&o.DeliveryFee,
		&o.Discount,
		&o.Total,
		&o.EstimatedDeliveryTime,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	if couponID.Valid {
		o.CouponID = couponID.String
	}
	return &o, nil
}

func (s *Store) ListOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, order_id, product_id, product_name, quantity,
			unit_price, total_price, selected_options, notes
		FROM order_items WHERE order_id=$1 ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var it models.OrderItem
		var options []byte
		if err := rows.Scan(
			&it.ID,
			&it.OrderID,
			&it.ProductID,
			&it.ProductName,
			&it.Quantity,
			&it.UnitPrice,
			&it.TotalPrice,
			&options,
			&it.Notes,
		); err != nil {
			return nil, err
		}
		it.SelectedOptions = options
		items = append(items, it)
	}
	return items, rows.Err()
}

// ApplyOrderRefund touches only the payment_status and status columns.
func (s *Store) ApplyOrderRefund(ctx context.Context, orderID string, paymentStatus models.OrderPaymentStatus) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE orders
		SET payment_status=$2, status=$3, updated_at=now()
		WHERE id=$1
	`, orderID, paymentStatus, models.OrderStatusCancelled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return nil
}
