package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/store"
	"tillpoint/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, price, tax_rate, cost, active
		FROM products
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.TaxRate, &p.Cost, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.Category == "" || !product.Price.IsPositive() {
		return nil, store.ErrInvalidOrderState
	}

	product.Active = true
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, price, tax_rate, cost, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
	`, product.ID, product.Name, product.Category, product.Price, product.TaxRate, product.Cost, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, price, tax_rate, cost, active
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.Name, &product.Category, &product.Price, &product.TaxRate, &product.Cost, &product.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.Category == "" || !product.Price.IsPositive() {
		return nil, store.ErrInvalidOrderState
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, price = $4, tax_rate = $5, cost = $6, active = $7, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Category, product.Price, product.TaxRate, product.Cost, product.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) CreateSession(ctx context.Context, session domain.Session) (*domain.Session, error) {
	if strings.TrimSpace(session.TerminalID) == "" || strings.TrimSpace(session.CashierName) == "" {
		return nil, store.ErrInvalidOrderState
	}
	if session.ID == "" {
		session.ID = xid.New("ses")
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	session.Status = domain.SessionStatusOpen
	session.ClosedAt = nil

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, terminal_id, cashier_name, status, opened_at, closed_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, session.ID, session.TerminalID, session.CashierName, session.Status, session.OpenedAt, nullTime(session.ClosedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	saved := session
	return &saved, nil
}

func (s *Store) GetSessionByID(ctx context.Context, id string) (*domain.Session, error) {
	return s.querySession(ctx, `
		SELECT id, terminal_id, cashier_name, status, opened_at, closed_at
		FROM sessions
		WHERE id = $1
	`, id)
}

func (s *Store) GetOpenSession(ctx context.Context, terminalID string) (*domain.Session, error) {
	return s.querySession(ctx, `
		SELECT id, terminal_id, cashier_name, status, opened_at, closed_at
		FROM sessions
		WHERE terminal_id = $1 AND status = 'open'
		ORDER BY opened_at DESC
		LIMIT 1
	`, terminalID)
}

func (s *Store) querySession(ctx context.Context, query string, arg string) (*domain.Session, error) {
	var session domain.Session
	var closedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&session.ID,
		&session.TerminalID,
		&session.CashierName,
		&session.Status,
		&session.OpenedAt,
		&closedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	session.OpenedAt = session.OpenedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		session.ClosedAt = &at
	}
	return &session, nil
}

func (s *Store) CloseOpenSession(ctx context.Context, terminalID string, closedAt time.Time) (*domain.Session, error) {
	if strings.TrimSpace(terminalID) == "" {
		return nil, store.ErrInvalidOrderState
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	var session domain.Session
	var closedAtNull sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		UPDATE sessions
		SET status = 'closed', closed_at = $2
		WHERE terminal_id = $1 AND status = 'open'
		RETURNING id, terminal_id, cashier_name, status, opened_at, closed_at
	`, terminalID, closedAt).Scan(
		&session.ID,
		&session.TerminalID,
		&session.CashierName,
		&session.Status,
		&session.OpenedAt,
		&closedAtNull,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	session.OpenedAt = session.OpenedAt.UTC()
	if closedAtNull.Valid {
		at := closedAtNull.Time.UTC()
		session.ClosedAt = &at
	}
	return &session, nil
}

func (s *Store) CreateOffer(ctx context.Context, offer domain.Offer) (*domain.Offer, error) {
	offer.Name = strings.TrimSpace(offer.Name)
	if offer.Name == "" {
		return nil, store.ErrInvalidOrderState
	}
	if offer.ID == "" {
		offer.ID = xid.New("ofr")
	}
	if offer.CreatedAt.IsZero() {
		offer.CreatedAt = time.Now().UTC()
	}
	offer.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO offers (
			id, name, type, product_id, discount_percent, flat_discount, min_subtotal, active, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
	`, offer.ID, offer.Name, offer.Type, nullIfEmpty(offer.ProductID), offer.DiscountPercent, offer.FlatDiscount, offer.MinSubtotal, offer.Active, offer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	saved := offer
	return &saved, nil
}

func (s *Store) ListOffers(ctx context.Context) ([]domain.Offer, error) {
	return s.queryOffers(ctx, `
		SELECT id, name, type, COALESCE(product_id,''), discount_percent, flat_discount, min_subtotal, active, created_at
		FROM offers
		ORDER BY created_at ASC
	`)
}

func (s *Store) FindActiveOffers(ctx context.Context) ([]domain.Offer, error) {
	return s.queryOffers(ctx, `
		SELECT id, name, type, COALESCE(product_id,''), discount_percent, flat_discount, min_subtotal, active, created_at
		FROM offers
		WHERE active = true
		ORDER BY created_at ASC
	`)
}

func (s *Store) queryOffers(ctx context.Context, query string) ([]domain.Offer, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	offers := make([]domain.Offer, 0, 16)
	for rows.Next() {
		var offer domain.Offer
		if err := rows.Scan(&offer.ID, &offer.Name, &offer.Type, &offer.ProductID, &offer.DiscountPercent, &offer.FlatDiscount, &offer.MinSubtotal, &offer.Active, &offer.CreatedAt); err != nil {
			return nil, err
		}
		offer.CreatedAt = offer.CreatedAt.UTC()
		offers = append(offers, offer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return offers, nil
}

func (s *Store) UpdateOfferActive(ctx context.Context, offerID string, active bool) (*domain.Offer, error) {
	var offer domain.Offer
	err := s.db.QueryRowContext(ctx, `
		UPDATE offers
		SET active = $2, updated_at = now()
		WHERE id = $1
		RETURNING id, name, type, COALESCE(product_id,''), discount_percent, flat_discount, min_subtotal, active, created_at
	`, offerID, active).Scan(
		&offer.ID,
		&offer.Name,
		&offer.Type,
		&offer.ProductID,
		&offer.DiscountPercent,
		&offer.FlatDiscount,
		&offer.MinSubtotal,
		&offer.Active,
		&offer.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	offer.CreatedAt = offer.CreatedAt.UTC()
	return &offer, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusDraft
	}
	order.Version = 1

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertOrderTx(ctx, tx, order); err != nil {
		return nil, err
	}
	if err := insertOrderItemsTx(ctx, tx, order.ID, order.Items); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := order
	return &saved, nil
}

func insertOrderTx(ctx context.Context, tx *sql.Tx, order domain.Order) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, number, session_id, customer_id, parent_order_id, status,
			subtotal, discount_total, tax_total, grand_total, order_discount,
			discount_reason, change_amount, paid_at, created_at, version
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, order.ID, order.Number, order.SessionID, nullIfEmpty(order.CustomerID), nullIfEmpty(order.ParentOrderID),
		order.Status, order.Subtotal, order.DiscountTotal, order.TaxTotal, order.GrandTotal, order.OrderDiscount,
		nullIfEmpty(order.DiscountReason), order.ChangeAmount, nullTime(order.PaidAt), order.CreatedAt, order.Version)
	return err
}

func insertOrderItemsTx(ctx context.Context, tx *sql.Tx, orderID string, items []domain.OrderItem) error {
	for _, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, product_id, quantity, unit_price, line_discount,
				tax_rate, tax_amount, line_total, offer_id
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, item.ID, orderID, item.ProductID, item.Quantity, item.UnitPrice, item.LineDiscount,
			item.TaxRate, item.TaxAmount, item.LineTotal, nullIfEmpty(item.OfferID))
		if err != nil {
			return err
		}
	}
	return nil
}

func insertPaymentsTx(ctx context.Context, tx *sql.Tx, payments []domain.Payment) error {
	for _, p := range payments {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO payments (id, order_id, method, kind, amount, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, p.ID, p.OrderID, p.Method, p.Kind, p.Amount, p.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	return s.queryOrder(ctx, id)
}

func (s *Store) GetOrderByItemID(ctx context.Context, itemID string) (*domain.Order, error) {
	var orderID string
	err := s.db.QueryRowContext(ctx, `
		SELECT order_id FROM order_items WHERE id = $1
	`, itemID).Scan(&orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return s.queryOrder(ctx, orderID)
}

func (s *Store) queryOrder(ctx context.Context, id string) (*domain.Order, error) {
	var order domain.Order
	var customerID sql.NullString
	var parentOrderID sql.NullString
	var discountReason sql.NullString
	var paidAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, number, session_id, customer_id, parent_order_id, status,
			subtotal, discount_total, tax_total, grand_total, order_discount,
			discount_reason, change_amount, paid_at, created_at, version
		FROM orders
		WHERE id = $1
	`, id).Scan(
		&order.ID,
		&order.Number,
		&order.SessionID,
		&customerID,
		&parentOrderID,
		&order.Status,
		&order.Subtotal,
		&order.DiscountTotal,
		&order.TaxTotal,
		&order.GrandTotal,
		&order.OrderDiscount,
		&discountReason,
		&order.ChangeAmount,
		&paidAt,
		&order.CreatedAt,
		&order.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if customerID.Valid {
		order.CustomerID = customerID.String
	}
	if parentOrderID.Valid {
		order.ParentOrderID = parentOrderID.String
	}
	if discountReason.Valid {
		order.DiscountReason = discountReason.String
	}
	if paidAt.Valid {
		at := paidAt.Time.UTC()
		order.PaidAt = &at
	}
	order.CreatedAt = order.CreatedAt.UTC()

	items, err := s.queryOrderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	payments, err := s.queryOrderPayments(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Payments = payments

	return &order, nil
}

func (s *Store) queryOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price, line_discount,
			tax_rate, tax_amount, line_total, COALESCE(offer_id,'')
		FROM order_items
		WHERE order_id = $1
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0, 8)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.LineDiscount, &item.TaxRate, &item.TaxAmount, &item.LineTotal, &item.OfferID); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) queryOrderPayments(ctx context.Context, orderID string) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, method, kind, amount, created_at
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 4)
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.OrderID, &p.Method, &p.Kind, &p.Amount, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

func (s *Store) UpdateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET number = $2, session_id = $3, customer_id = $4, status = $5,
			subtotal = $6, discount_total = $7, tax_total = $8, grand_total = $9,
			order_discount = $10, discount_reason = $11, change_amount = $12,
			paid_at = $13, version = version + 1
		WHERE id = $1 AND version = $14
	`, order.ID, order.Number, order.SessionID, nullIfEmpty(order.CustomerID), order.Status,
		order.Subtotal, order.DiscountTotal, order.TaxTotal, order.GrandTotal,
		order.OrderDiscount, nullIfEmpty(order.DiscountReason), order.ChangeAmount,
		nullTime(order.PaidAt), order.Version)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, store.ErrNotFound
		}
		return nil, store.ErrVersionConflict
	}

	// Items are replaced wholesale; the aggregate is small and always
	// written out after a full recompute.
	if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ID); err != nil {
		return nil, err
	}
	if err := insertOrderItemsTx(ctx, tx, order.ID, order.Items); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	order.Version++
	saved := order
	return &saved, nil
}

func (s *Store) ListSessionOrders(ctx context.Context, sessionID string, statuses []string, limit int) ([]domain.Order, error) {
	if limit < 1 {
		limit = 100
	}
	if len(statuses) == 0 {
		statuses = []string{
			domain.OrderStatusDraft, domain.OrderStatusHold, domain.OrderStatusPaid,
			domain.OrderStatusCancelled, domain.OrderStatusReturned,
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM orders
		WHERE ($1 = '' OR session_id = $1) AND status = ANY(string_to_array($2, ','))
		ORDER BY created_at DESC
		LIMIT $3
	`, sessionID, strings.Join(statuses, ","), limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	orders := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		order, err := s.queryOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

func (s *Store) NextOrderSequence(ctx context.Context, sessionID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO order_sequences (session_id, seq)
		VALUES ($1, 1)
		ON CONFLICT (session_id)
		DO UPDATE SET seq = order_sequences.seq + 1
		RETURNING seq
	`, sessionID).Scan(&seq)
	return seq, err
}

func (s *Store) FinalizePayment(ctx context.Context, order domain.Order, payments []domain.Payment, movements []domain.InventoryMovement) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var currentStatus string
	var currentVersion int
	err = tx.QueryRowContext(ctx, `
		SELECT status, version
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, order.ID).Scan(&currentStatus, &currentVersion)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if currentStatus == domain.OrderStatusPaid {
		return nil, store.ErrConflict
	}
	if currentStatus != domain.OrderStatusDraft && currentStatus != domain.OrderStatusHold {
		return nil, store.ErrInvalidOrderState
	}
	if currentVersion != order.Version {
		return nil, store.ErrVersionConflict
	}

	// Payment may fold a cart offer into the order just before finalizing,
	// which changes the totals and every item's tax split. Persist the whole
	// recomputed aggregate, not just the payment columns.
	_, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, subtotal = $3, discount_total = $4, tax_total = $5,
			grand_total = $6, order_discount = $7, discount_reason = $8,
			change_amount = $9, paid_at = $10, version = version + 1
		WHERE id = $1
	`, order.ID, domain.OrderStatusPaid,
		order.Subtotal, order.DiscountTotal, order.TaxTotal, order.GrandTotal,
		order.OrderDiscount, nullIfEmpty(order.DiscountReason),
		order.ChangeAmount, nullTime(order.PaidAt))
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ID); err != nil {
		return nil, err
	}
	if err := insertOrderItemsTx(ctx, tx, order.ID, order.Items); err != nil {
		return nil, err
	}

	if err := insertPaymentsTx(ctx, tx, payments); err != nil {
		return nil, err
	}
	for _, m := range movements {
		if err := applyMovementTx(ctx, tx, m, false); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	order.Status = domain.OrderStatusPaid
	order.Version = currentVersion + 1
	order.Payments = payments
	saved := order
	return &saved, nil
}

func (s *Store) CreateReturnOrder(ctx context.Context, returnOrder domain.Order, items []domain.ReturnItem, payments []domain.Payment, movements []domain.InventoryMovement) (*domain.Order, error) {
	if returnOrder.ParentOrderID == "" || len(items) == 0 {
		return nil, store.ErrInvalidOrderState
	}
	if returnOrder.ID == "" {
		returnOrder.ID = xid.New("ord")
	}
	if returnOrder.CreatedAt.IsZero() {
		returnOrder.CreatedAt = time.Now().UTC()
	}
	returnOrder.Status = domain.OrderStatusReturned
	returnOrder.Version = 1

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the original order so concurrent returns serialize, then recheck
	// the per-line cap against quantities already returned.
	var originalStatus string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM orders WHERE id = $1 FOR UPDATE
	`, returnOrder.ParentOrderID).Scan(&originalStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if originalStatus != domain.OrderStatusPaid {
		return nil, store.ErrInvalidOrderState
	}

	for _, ri := range items {
		var originalQty decimal.Decimal
		err := tx.QueryRowContext(ctx, `
			SELECT quantity FROM order_items WHERE id = $1 AND order_id = $2
		`, ri.OriginalOrderItemID, returnOrder.ParentOrderID).Scan(&originalQty)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
		var returnedSoFar decimal.Decimal
		err = tx.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(returned_qty), 0)
			FROM return_items
			WHERE original_order_item_id = $1
		`, ri.OriginalOrderItemID).Scan(&returnedSoFar)
		if err != nil {
			return nil, err
		}
		if returnedSoFar.Add(ri.ReturnedQty).GreaterThan(originalQty) {
			return nil, store.ErrExceedsReturnable
		}
	}

	if err := insertOrderTx(ctx, tx, returnOrder); err != nil {
		return nil, err
	}
	if err := insertOrderItemsTx(ctx, tx, returnOrder.ID, returnOrder.Items); err != nil {
		return nil, err
	}
	for _, ri := range items {
		if ri.ID == "" {
			ri.ID = xid.New("rti")
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO return_items (id, return_order_id, original_order_item_id, returned_qty, refund_amount)
			VALUES ($1,$2,$3,$4,$5)
		`, ri.ID, returnOrder.ID, ri.OriginalOrderItemID, ri.ReturnedQty, ri.RefundAmount)
		if err != nil {
			return nil, err
		}
	}
	if err := insertPaymentsTx(ctx, tx, payments); err != nil {
		return nil, err
	}
	for _, m := range movements {
		if err := applyMovementTx(ctx, tx, m, false); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	returnOrder.Payments = payments
	saved := returnOrder
	return &saved, nil
}

func (s *Store) ReturnedQtyByOrder(ctx context.Context, originalOrderID string) (map[string]decimal.Decimal, error) {
	result := make(map[string]decimal.Decimal)
	rows, err := s.db.QueryContext(ctx, `
		SELECT ri.original_order_item_id, COALESCE(SUM(ri.returned_qty), 0)
		FROM return_items ri
		JOIN orders o ON o.id = ri.return_order_id
		WHERE o.parent_order_id = $1
		GROUP BY ri.original_order_item_id
	`, originalOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var itemID string
		var qty decimal.Decimal
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, err
		}
		result[itemID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListReturnItems(ctx context.Context, returnOrderID string) ([]domain.ReturnItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, return_order_id, original_order_item_id, returned_qty, refund_amount
		FROM return_items
		WHERE return_order_id = $1
		ORDER BY id ASC
	`, returnOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.ReturnItem, 0, 8)
	for rows.Next() {
		var ri domain.ReturnItem
		if err := rows.Scan(&ri.ID, &ri.ReturnOrderID, &ri.OriginalOrderItemID, &ri.ReturnedQty, &ri.RefundAmount); err != nil {
			return nil, err
		}
		items = append(items, ri)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) RecordMovement(ctx context.Context, movement domain.InventoryMovement, strict bool) (*domain.InventoryMovement, error) {
	if movement.ProductID == "" || movement.QtyChange.IsZero() {
		return nil, store.ErrInvalidOrderState
	}
	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.MovedAt.IsZero() {
		movement.MovedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, movement.ProductID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	if err := applyMovementTx(ctx, tx, movement, strict); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	recorded := movement
	return &recorded, nil
}

func (s *Store) Transfer(ctx context.Context, out domain.InventoryMovement, in domain.InventoryMovement) error {
	if out.ProductID == "" || out.ProductID != in.ProductID {
		return store.ErrInvalidOrderState
	}
	if !out.QtyChange.IsNegative() || !in.QtyChange.IsPositive() {
		return store.ErrInvalidOrderState
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, out.ProductID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}

	if err := applyMovementTx(ctx, tx, out, true); err != nil {
		return err
	}
	if err := applyMovementTx(ctx, tx, in, false); err != nil {
		return err
	}
	return tx.Commit()
}

// applyMovementTx appends one ledger entry and write-through updates the
// snapshot row inside the caller's transaction. With strict set, a decrement
// is rejected when the locked snapshot would go negative.
func applyMovementTx(ctx context.Context, tx *sql.Tx, m domain.InventoryMovement, strict bool) error {
	if m.ID == "" {
		m.ID = xid.New("mov")
	}
	if m.MovedAt.IsZero() {
		m.MovedAt = time.Now().UTC()
	}

	if strict && m.QtyChange.IsNegative() {
		column := "store_qty"
		if m.LocationType == domain.LocationWarehouse {
			column = "warehouse_qty"
		}
		available := decimal.Zero
		err := tx.QueryRowContext(ctx, `
			SELECT `+column+`
			FROM stock_snapshots
			WHERE product_id = $1
			FOR UPDATE
		`, m.ProductID).Scan(&available)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if available.Add(m.QtyChange).IsNegative() {
			return store.ErrInsufficientStock
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO inventory_movements (
			id, product_id, location_type, ref_type, ref_id, qty_change, unit_cost, note, moved_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, m.ID, m.ProductID, m.LocationType, m.RefType, nullIfEmpty(m.RefID), m.QtyChange, m.UnitCost, strings.TrimSpace(m.Note), m.MovedAt)
	if err != nil {
		return err
	}

	storeDelta := decimal.Zero
	warehouseDelta := decimal.Zero
	switch m.LocationType {
	case domain.LocationStore:
		storeDelta = m.QtyChange
	case domain.LocationWarehouse:
		warehouseDelta = m.QtyChange
	default:
		return store.ErrInvalidOrderState
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_snapshots (product_id, store_qty, warehouse_qty, last_updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (product_id)
		DO UPDATE SET
			store_qty = stock_snapshots.store_qty + EXCLUDED.store_qty,
			warehouse_qty = stock_snapshots.warehouse_qty + EXCLUDED.warehouse_qty,
			last_updated_at = EXCLUDED.last_updated_at
	`, m.ProductID, storeDelta, warehouseDelta, m.MovedAt)
	return err
}

func (s *Store) GetSnapshot(ctx context.Context, productID string) (*domain.StockSnapshot, error) {
	var snap domain.StockSnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT product_id, store_qty, warehouse_qty, last_updated_at
		FROM stock_snapshots
		WHERE product_id = $1
	`, productID).Scan(&snap.ProductID, &snap.StoreQty, &snap.WarehouseQty, &snap.LastUpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
				return nil, err
			}
			if !exists {
				return nil, store.ErrNotFound
			}
			return &domain.StockSnapshot{ProductID: productID, StoreQty: decimal.Zero, WarehouseQty: decimal.Zero}, nil
		}
		return nil, err
	}
	snap.LastUpdatedAt = snap.LastUpdatedAt.UTC()
	return &snap, nil
}

func (s *Store) ListMovements(ctx context.Context, productID string, limit int) ([]domain.InventoryMovement, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, location_type, ref_type, COALESCE(ref_id,''), qty_change, unit_cost, note, moved_at
		FROM inventory_movements
		WHERE product_id = $1
		ORDER BY moved_at DESC, id DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.InventoryMovement, 0, limit)
	for rows.Next() {
		var m domain.InventoryMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.LocationType, &m.RefType, &m.RefID, &m.QtyChange, &m.UnitCost, &m.Note, &m.MovedAt); err != nil {
			return nil, err
		}
		m.MovedAt = m.MovedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) ReconcileSnapshot(ctx context.Context, productID string) (*domain.StockSnapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	var storeQty decimal.Decimal
	var warehouseQty decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN location_type = 'store' THEN qty_change ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN location_type = 'warehouse' THEN qty_change ELSE 0 END), 0)
		FROM inventory_movements
		WHERE product_id = $1
	`, productID).Scan(&storeQty, &warehouseQty)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_snapshots (product_id, store_qty, warehouse_qty, last_updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (product_id)
		DO UPDATE SET store_qty = EXCLUDED.store_qty, warehouse_qty = EXCLUDED.warehouse_qty, last_updated_at = EXCLUDED.last_updated_at
	`, productID, storeQty, warehouseQty, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &domain.StockSnapshot{
		ProductID:     productID,
		StoreQty:      storeQty,
		WarehouseQty:  warehouseQty,
		LastUpdatedAt: now,
	}, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidOrderState
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password_hash, role, active, created_at
		FROM users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidOrderState
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return u
}
