package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tillpoint/backend/internal/domain"
)

func TestReturnOrderRestocksStore(t *testing.T) {
	databaseURL := os.Getenv("TILLPOINT_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set TILLPOINT_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prd-return-it-%d", stamp)
	sessionID := fmt.Sprintf("ses-return-it-%d", stamp)
	orderID := fmt.Sprintf("ord-return-it-%d", stamp)
	itemID := fmt.Sprintf("oit-return-it-%d", stamp)
	returnID := fmt.Sprintf("ord-return-it-child-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM return_items WHERE return_order_id = $1`, returnID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM payments WHERE order_id IN ($1, $2)`, orderID, returnID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM order_items WHERE order_id IN ($1, $2)`, orderID, returnID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM orders WHERE id IN ($1, $2)`, orderID, returnID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_movements WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_snapshots WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, price, tax_rate, cost, active, created_at, updated_at)
		VALUES ($1, 'Return IT Product', 'drinks', 5.00, 10, 2.00, true, now(), now())
	`, productID); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, terminal_id, cashier_name, status, opened_at)
		VALUES ($1, 'T-RETURN-IT', 'integration', 'open', now())
	`, sessionID); err != nil {
		t.Fatalf("insert session: %v", err)
	}

	if _, err := s.RecordMovement(ctx, domain.InventoryMovement{
		ProductID:    productID,
		LocationType: domain.LocationStore,
		RefType:      domain.RefTypePurchase,
		QtyChange:    decimal.NewFromInt(10),
		UnitCost:     decimal.RequireFromString("2.00"),
	}, false); err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	order := domain.Order{
		ID:        orderID,
		Number:    fmt.Sprintf("T-RETURN-IT-%d", stamp),
		SessionID: sessionID,
		Status:    domain.OrderStatusDraft,
		Items: []domain.OrderItem{{
			ID:        itemID,
			OrderID:   orderID,
			ProductID: productID,
			Quantity:  decimal.NewFromInt(2),
			UnitPrice: decimal.RequireFromString("5.00"),
			TaxRate:   decimal.NewFromInt(10),
		}},
	}
	order.Recalculate()
	created, err := s.CreateOrder(ctx, order)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	paidAt := time.Now().UTC()
	created.PaidAt = &paidAt
	if _, err := s.FinalizePayment(ctx, *created, []domain.Payment{{
		ID:        fmt.Sprintf("pay-return-it-%d", stamp),
		OrderID:   orderID,
		Method:    domain.PaymentMethodCash,
		Kind:      domain.PaymentKindTender,
		Amount:    created.GrandTotal,
		CreatedAt: paidAt,
	}}, []domain.InventoryMovement{{
		ProductID:    productID,
		LocationType: domain.LocationStore,
		RefType:      domain.RefTypeSale,
		RefID:        orderID,
		QtyChange:    decimal.NewFromInt(-2),
	}}); err != nil {
		t.Fatalf("finalize payment: %v", err)
	}

	snap, err := s.GetSnapshot(ctx, productID)
	if err != nil {
		t.Fatalf("snapshot after sale: %v", err)
	}
	if !snap.StoreQty.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("expected store qty 8 after sale, got %s", snap.StoreQty)
	}

	refund := decimal.RequireFromString("5.50")
	returnOrder := domain.Order{
		ID:            returnID,
		Number:        fmt.Sprintf("T-RETURN-IT-R-%d", stamp),
		SessionID:     sessionID,
		ParentOrderID: orderID,
		GrandTotal:    refund,
	}
	if _, err := s.CreateReturnOrder(ctx, returnOrder, []domain.ReturnItem{{
		ReturnOrderID:       returnID,
		OriginalOrderItemID: itemID,
		ReturnedQty:         decimal.NewFromInt(1),
		RefundAmount:        refund,
	}}, []domain.Payment{{
		ID:        fmt.Sprintf("pay-return-it-r-%d", stamp),
		OrderID:   returnID,
		Method:    domain.PaymentMethodCash,
		Kind:      domain.PaymentKindRefund,
		Amount:    refund.Neg(),
		CreatedAt: time.Now().UTC(),
	}}, []domain.InventoryMovement{{
		ProductID:    productID,
		LocationType: domain.LocationStore,
		RefType:      domain.RefTypeReturn,
		RefID:        returnID,
		QtyChange:    decimal.NewFromInt(1),
	}}); err != nil {
		t.Fatalf("create return order: %v", err)
	}

	snap, err = s.GetSnapshot(ctx, productID)
	if err != nil {
		t.Fatalf("snapshot after return: %v", err)
	}
	if !snap.StoreQty.Equal(decimal.NewFromInt(9)) {
		t.Fatalf("expected store qty 9 after return restock, got %s", snap.StoreQty)
	}

	var status string
	if err := s.db.QueryRowContext(ctx, `
		SELECT status
		FROM orders
		WHERE id = $1
	`, returnID).Scan(&status); err != nil {
		t.Fatalf("query return order status: %v", err)
	}
	if status != domain.OrderStatusReturned {
		t.Fatalf("expected return order status returned, got %s", status)
	}
}

// A cart offer is folded into the order between the last UpdateOrder and the
// payment, so FinalizePayment must write back the recomputed totals and items,
// not just the payment columns.
func TestFinalizePaymentPersistsRecomputedTotals(t *testing.T) {
	databaseURL := os.Getenv("TILLPOINT_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set TILLPOINT_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prd-final-it-%d", stamp)
	sessionID := fmt.Sprintf("ses-final-it-%d", stamp)
	orderID := fmt.Sprintf("ord-final-it-%d", stamp)
	itemID := fmt.Sprintf("oit-final-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM payments WHERE order_id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_movements WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_snapshots WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, price, tax_rate, cost, active, created_at, updated_at)
		VALUES ($1, 'Finalize IT Product', 'drinks', 5.00, 10, 2.00, true, now(), now())
	`, productID); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, terminal_id, cashier_name, status, opened_at)
		VALUES ($1, 'T-FINAL-IT', 'integration', 'open', now())
	`, sessionID); err != nil {
		t.Fatalf("insert session: %v", err)
	}

	if _, err := s.RecordMovement(ctx, domain.InventoryMovement{
		ProductID:    productID,
		LocationType: domain.LocationStore,
		RefType:      domain.RefTypePurchase,
		QtyChange:    decimal.NewFromInt(10),
		UnitCost:     decimal.RequireFromString("2.00"),
	}, false); err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	order := domain.Order{
		ID:        orderID,
		Number:    fmt.Sprintf("T-FINAL-IT-%d", stamp),
		SessionID: sessionID,
		Status:    domain.OrderStatusDraft,
		Items: []domain.OrderItem{{
			ID:        itemID,
			OrderID:   orderID,
			ProductID: productID,
			Quantity:  decimal.NewFromInt(2),
			UnitPrice: decimal.RequireFromString("5.00"),
			TaxRate:   decimal.NewFromInt(10),
		}},
	}
	order.Recalculate()
	created, err := s.CreateOrder(ctx, order)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if !created.GrandTotal.Equal(decimal.RequireFromString("11.00")) {
		t.Fatalf("expected grand total 11.00 before offer, got %s", created.GrandTotal)
	}

	// Fold a 10% cart offer in just before finalizing, the way payment does.
	created.OrderDiscount = decimal.RequireFromString("1.00")
	created.DiscountReason = "weekend cart"
	created.Recalculate()
	if !created.GrandTotal.Equal(decimal.RequireFromString("9.90")) {
		t.Fatalf("expected grand total 9.90 after offer, got %s", created.GrandTotal)
	}

	paidAt := time.Now().UTC()
	created.PaidAt = &paidAt
	created.ChangeAmount = decimal.Zero
	if _, err := s.FinalizePayment(ctx, *created, []domain.Payment{{
		ID:        fmt.Sprintf("pay-final-it-%d", stamp),
		OrderID:   orderID,
		Method:    domain.PaymentMethodCash,
		Kind:      domain.PaymentKindTender,
		Amount:    created.GrandTotal,
		CreatedAt: paidAt,
	}}, []domain.InventoryMovement{{
		ProductID:    productID,
		LocationType: domain.LocationStore,
		RefType:      domain.RefTypeSale,
		RefID:        orderID,
		QtyChange:    decimal.NewFromInt(-2),
	}}); err != nil {
		t.Fatalf("finalize payment: %v", err)
	}

	persisted, err := s.queryOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("query order after payment: %v", err)
	}
	if !persisted.GrandTotal.Equal(decimal.RequireFromString("9.90")) {
		t.Fatalf("expected persisted grand total 9.90, got %s", persisted.GrandTotal)
	}
	if !persisted.OrderDiscount.Equal(decimal.RequireFromString("1.00")) {
		t.Fatalf("expected persisted order discount 1.00, got %s", persisted.OrderDiscount)
	}
	if persisted.DiscountReason != "weekend cart" {
		t.Fatalf("expected persisted discount reason, got %q", persisted.DiscountReason)
	}
	if !persisted.TaxTotal.Equal(decimal.RequireFromString("0.90")) {
		t.Fatalf("expected persisted tax total 0.90, got %s", persisted.TaxTotal)
	}
	if len(persisted.Items) != 1 {
		t.Fatalf("expected 1 persisted item, got %d", len(persisted.Items))
	}
	if !persisted.Items[0].LineTotal.Equal(decimal.RequireFromString("9.90")) {
		t.Fatalf("expected persisted line total 9.90, got %s", persisted.Items[0].LineTotal)
	}
	if !persisted.Payments[0].Amount.Equal(persisted.GrandTotal) {
		t.Fatalf("tendered %s does not match persisted grand total %s",
			persisted.Payments[0].Amount, persisted.GrandTotal)
	}
}
