package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/store"
	"tillpoint/backend/internal/store/memory"
	"tillpoint/backend/internal/xid"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	return New(repo, nil, nil, 14, nil), repo
}

func adminContext() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func openTestSession(t *testing.T, svc *Service) domain.Session {
	t.Helper()
	session, err := svc.OpenSession(context.Background(), domain.SessionOpenRequest{
		TerminalID:  "terminal-a1",
		CashierName: "Alex",
	})
	if err != nil {
		t.Fatalf("open session failed: %v", err)
	}
	return session
}

func createTestProduct(t *testing.T, svc *Service) domain.Product {
	t.Helper()
	product, err := svc.CreateProduct(adminContext(), domain.ProductCreateRequest{
		ID:       "prd-widget",
		Name:     "Widget",
		Category: "general",
		Price:    dec("5.00"),
		TaxRate:  dec("10"),
		Cost:     dec("2.00"),
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	return product
}

// Builds a draft order holding 2 units of a 5.00 product taxed at 10%:
// subtotal 10.00, tax 1.00, grand total 11.00.
func buildTwoUnitOrder(t *testing.T, svc *Service) domain.Order {
	t.Helper()
	session := openTestSession(t, svc)
	product := createTestProduct(t, svc)

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{SessionID: session.ID})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	order, err = svc.AddItem(context.Background(), domain.AddItemRequest{
		OrderID:   order.ID,
		ProductID: product.ID,
		Quantity:  dec("2"),
	})
	if err != nil {
		t.Fatalf("add item failed: %v", err)
	}
	return order
}

func TestOrderTotalsBasicTax(t *testing.T) {
	svc, _ := newTestService()
	order := buildTwoUnitOrder(t, svc)

	if !order.Subtotal.Equal(dec("10.00")) {
		t.Fatalf("expected subtotal 10.00, got %s", order.Subtotal)
	}
	if !order.TaxTotal.Equal(dec("1.00")) {
		t.Fatalf("expected tax total 1.00, got %s", order.TaxTotal)
	}
	if !order.GrandTotal.Equal(dec("11.00")) {
		t.Fatalf("expected grand total 11.00, got %s", order.GrandTotal)
	}
}

func TestAddItemMergesExistingLine(t *testing.T) {
	svc, _ := newTestService()
	session := openTestSession(t, svc)
	product := createTestProduct(t, svc)

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{SessionID: session.ID})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		order, err = svc.AddItem(context.Background(), domain.AddItemRequest{
			OrderID:   order.ID,
			ProductID: product.ID,
			Quantity:  dec("1"),
		})
		if err != nil {
			t.Fatalf("add item %d failed: %v", i, err)
		}
	}

	if len(order.Items) != 1 {
		t.Fatalf("expected a single merged line, got %d", len(order.Items))
	}
	if !order.Items[0].Quantity.Equal(dec("2")) {
		t.Fatalf("expected merged quantity 2, got %s", order.Items[0].Quantity)
	}
}

func TestOrderDiscountRecomputesTaxOnDiscountedBase(t *testing.T) {
	svc, _ := newTestService()
	order := buildTwoUnitOrder(t, svc)

	pct := dec("10")
	order, err := svc.ApplyOrderDiscount(context.Background(), domain.OrderDiscountRequest{
		OrderID:            order.ID,
		DiscountPercentage: &pct,
		DiscountReason:     "loyalty",
	})
	if err != nil {
		t.Fatalf("apply discount failed: %v", err)
	}

	if !order.DiscountTotal.Equal(dec("1.00")) {
		t.Fatalf("expected discount total 1.00, got %s", order.DiscountTotal)
	}
	if !order.TaxTotal.Equal(dec("0.90")) {
		t.Fatalf("expected tax total 0.90, got %s", order.TaxTotal)
	}
	if !order.GrandTotal.Equal(dec("9.90")) {
		t.Fatalf("expected grand total 9.90, got %s", order.GrandTotal)
	}
}

func TestPaymentBelowGrandTotalRejected(t *testing.T) {
	svc, _ := newTestService()
	order := buildTwoUnitOrder(t, svc)

	_, err := svc.ProcessPayment(context.Background(), domain.PaymentRequest{
		OrderID:       order.ID,
		PaymentMethod: domain.PaymentMethodCash,
		Amount:        dec("10.00"),
	})
	if !errors.Is(err, store.ErrInvalidOrderState) {
		t.Fatalf("expected rejection for underpayment, got %v", err)
	}

	got, err := svc.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if got.Status != domain.OrderStatusDraft {
		t.Fatalf("expected order to stay draft, got %s", got.Status)
	}
}

func TestExactPaymentFinalizesAndPostsSaleMovements(t *testing.T) {
	svc, _ := newTestService()
	order := buildTwoUnitOrder(t, svc)
	ctx := adminContext()

	if _, err := svc.ReceiveStock(ctx, domain.ReceiveStockRequest{
		ProductID: "prd-widget",
		Location:  domain.LocationStore,
		Quantity:  dec("10"),
	}); err != nil {
		t.Fatalf("receive stock failed: %v", err)
	}

	paid, err := svc.ProcessPayment(context.Background(), domain.PaymentRequest{
		OrderID:       order.ID,
		PaymentMethod: domain.PaymentMethodCash,
		Amount:        dec("11.00"),
	})
	if err != nil {
		t.Fatalf("payment failed: %v", err)
	}
	if paid.Status != domain.OrderStatusPaid {
		t.Fatalf("expected status paid, got %s", paid.Status)
	}
	if !paid.ChangeAmount.Equal(dec("0")) {
		t.Fatalf("expected zero change, got %s", paid.ChangeAmount)
	}
	if paid.PaidAt == nil {
		t.Fatalf("expected paid_at to be set")
	}

	snap, err := svc.GetStockSnapshot(context.Background(), "prd-widget")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if !snap.StoreQty.Equal(dec("8")) {
		t.Fatalf("expected store qty 8 after sale of 2, got %s", snap.StoreQty)
	}

	movements, err := svc.ListMovements(context.Background(), "prd-widget", 10)
	if err != nil {
		t.Fatalf("list movements failed: %v", err)
	}
	found := false
	for _, m := range movements {
		if m.RefType == domain.RefTypeSale && m.RefID == order.ID {
			found = true
			if !m.QtyChange.Equal(dec("-2")) {
				t.Fatalf("expected sale movement of -2, got %s", m.QtyChange)
			}
			if m.LocationType != domain.LocationStore {
				t.Fatalf("expected sale movement at store, got %s", m.LocationType)
			}
		}
	}
	if !found {
		t.Fatalf("expected a sale movement referencing order %s", order.ID)
	}
}

func TestRepayingPaidOrderConflicts(t *testing.T) {
	svc, _ := newTestService()
	order := buildTwoUnitOrder(t, svc)

	if _, err := svc.ProcessPayment(context.Background(), domain.PaymentRequest{
		OrderID:       order.ID,
		PaymentMethod: domain.PaymentMethodCash,
		Amount:        dec("11.00"),
	}); err != nil {
		t.Fatalf("first payment failed: %v", err)
	}

	_, err := svc.ProcessPayment(context.Background(), domain.PaymentRequest{
		OrderID:       order.ID,
		PaymentMethod: domain.PaymentMethodCash,
		Amount:        dec("11.00"),
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on re-payment, got %v", err)
	}
}

func TestSplitPaymentRecordsBothTenders(t *testing.T) {
	svc, _ := newTestService()
	order := buildTwoUnitOrder(t, svc)

	paid, err := svc.ProcessPayment(context.Background(), domain.PaymentRequest{
		OrderID:       order.ID,
		PaymentMethod: domain.PaymentMethodSplit,
		CashAmount:    dec("6.00"),
		CardAmount:    dec("5.00"),
	})
	if err != nil {
		t.Fatalf("split payment failed: %v", err)
	}
	if len(paid.Payments) != 2 {
		t.Fatalf("expected two payment rows, got %d", len(paid.Payments))
	}
	if !paid.ChangeAmount.Equal(dec("0")) {
		t.Fatalf("expected zero change, got %s", paid.ChangeAmount)
	}
}

func TestUpdateItemQuantityDelta(t *testing.T) {
	svc, _ := newTestService()
	order := buildTwoUnitOrder(t, svc)

	order, err := svc.UpdateItemQuantity(context.Background(), domain.UpdateItemQuantityRequest{
		OrderID:   order.ID,
		ProductID: "prd-widget",
		Quantity:  dec("-1"),
	})
	if err != nil {
		t.Fatalf("quantity delta failed: %v", err)
	}
	if !order.Items[0].Quantity.Equal(dec("1")) {
		t.Fatalf("expected quantity 1, got %s", order.Items[0].Quantity)
	}

	_, err = svc.UpdateItemQuantity(context.Background(), domain.UpdateItemQuantityRequest{
		OrderID:   order.ID,
		ProductID: "prd-widget",
		Quantity:  dec("-1"),
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected rejection when delta would zero the line, got %v", err)
	}
}

func TestRemoveItemRecomputesTotals(t *testing.T) {
	svc, _ := newTestService()
	order := buildTwoUnitOrder(t, svc)

	order, err := svc.RemoveItem(context.Background(), order.Items[0].ID)
	if err != nil {
		t.Fatalf("remove item failed: %v", err)
	}
	if len(order.Items) != 0 {
		t.Fatalf("expected no items, got %d", len(order.Items))
	}
	if !order.GrandTotal.Equal(dec("0")) {
		t.Fatalf("expected zero grand total, got %s", order.GrandTotal)
	}
}

func TestHoldRetrieveVoidTransitions(t *testing.T) {
	svc, _ := newTestService()
	order := buildTwoUnitOrder(t, svc)
	ctx := context.Background()

	held, err := svc.HoldOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("hold failed: %v", err)
	}
	if held.Status != domain.OrderStatusHold {
		t.Fatalf("expected hold status, got %s", held.Status)
	}

	if _, err := svc.HoldOrder(ctx, order.ID); !errors.Is(err, store.ErrInvalidOrderState) {
		t.Fatalf("expected hold on held order to fail, got %v", err)
	}

	retrieved, err := svc.RetrieveOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if retrieved.Status != domain.OrderStatusDraft {
		t.Fatalf("expected draft status, got %s", retrieved.Status)
	}

	voided, err := svc.VoidOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("void failed: %v", err)
	}
	if voided.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled status, got %s", voided.Status)
	}

	if _, err := svc.VoidOrder(ctx, order.ID); !errors.Is(err, store.ErrInvalidOrderState) {
		t.Fatalf("expected voiding a cancelled order to fail, got %v", err)
	}
}

func TestVoidPaidOrderRejected(t *testing.T) {
	svc, _ := newTestService()
	order := buildTwoUnitOrder(t, svc)

	if _, err := svc.ProcessPayment(context.Background(), domain.PaymentRequest{
		OrderID:       order.ID,
		PaymentMethod: domain.PaymentMethodCard,
		Amount:        dec("11.00"),
	}); err != nil {
		t.Fatalf("payment failed: %v", err)
	}

	if _, err := svc.VoidOrder(context.Background(), order.ID); !errors.Is(err, store.ErrInvalidOrderState) {
		t.Fatalf("expected void of paid order to fail, got %v", err)
	}
}

func TestTransferRoundTripRestoresSnapshots(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	before, err := svc.GetStockSnapshot(ctx, "prd-espresso")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}

	if err := svc.TransferToStore(ctx, domain.TransferRequest{
		ProductID: "prd-espresso",
		Quantity:  dec("3.5"),
	}); err != nil {
		t.Fatalf("transfer to store failed: %v", err)
	}
	if err := svc.TransferToWarehouse(ctx, domain.TransferRequest{
		ProductID: "prd-espresso",
		Quantity:  dec("3.5"),
	}); err != nil {
		t.Fatalf("transfer to warehouse failed: %v", err)
	}

	after, err := svc.GetStockSnapshot(ctx, "prd-espresso")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if !after.StoreQty.Equal(before.StoreQty) || !after.WarehouseQty.Equal(before.WarehouseQty) {
		t.Fatalf("round trip changed snapshot: before %s/%s after %s/%s",
			before.StoreQty, before.WarehouseQty, after.StoreQty, after.WarehouseQty)
	}
}

func TestTransferInsufficientStock(t *testing.T) {
	svc, _ := newTestService()

	err := svc.TransferToStore(context.Background(), domain.TransferRequest{
		ProductID: "prd-espresso",
		Quantity:  dec("1000"),
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestWasteIsAlwaysOutboundAndStrict(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminContext()

	movement, err := svc.WasteStock(ctx, domain.WasteRequest{
		ProductID: "prd-espresso",
		Location:  domain.LocationWarehouse,
		Quantity:  dec("2"),
		Note:      "expired",
	})
	if err != nil {
		t.Fatalf("waste failed: %v", err)
	}
	if !movement.QtyChange.Equal(dec("-2")) {
		t.Fatalf("expected waste movement of -2, got %s", movement.QtyChange)
	}

	_, err = svc.WasteStock(ctx, domain.WasteRequest{
		ProductID: "prd-espresso",
		Location:  domain.LocationStore,
		Quantity:  dec("1"),
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock for store waste, got %v", err)
	}
}

func TestAdjustOutValidatesAvailability(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminContext()

	if _, err := svc.AdjustStock(ctx, domain.AdjustmentRequest{
		ProductID: "prd-latte",
		Location:  domain.LocationWarehouse,
		Quantity:  dec("5"),
		Direction: domain.AdjustDirectionOut,
		Note:      "shrinkage",
	}); err != nil {
		t.Fatalf("adjust out failed: %v", err)
	}

	_, err := svc.AdjustStock(ctx, domain.AdjustmentRequest{
		ProductID: "prd-latte",
		Location:  domain.LocationWarehouse,
		Quantity:  dec("500"),
		Direction: domain.AdjustDirectionOut,
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestReconcileMatchesLedgerAfterMixedActivity(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminContext()

	if err := svc.TransferToStore(ctx, domain.TransferRequest{
		ProductID: "prd-juice",
		Quantity:  dec("12"),
	}); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if _, err := svc.WasteStock(ctx, domain.WasteRequest{
		ProductID: "prd-juice",
		Location:  domain.LocationStore,
		Quantity:  dec("1"),
	}); err != nil {
		t.Fatalf("waste failed: %v", err)
	}

	resp, err := svc.ReconcileStock(ctx, "prd-juice")
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if resp.Drift {
		t.Fatalf("write-through snapshot should not drift from ledger")
	}
	if !resp.Snapshot.StoreQty.Equal(dec("11")) {
		t.Fatalf("expected store qty 11, got %s", resp.Snapshot.StoreQty)
	}
	if !resp.Snapshot.WarehouseQty.Equal(dec("88")) {
		t.Fatalf("expected warehouse qty 88, got %s", resp.Snapshot.WarehouseQty)
	}
}

func payTwoUnitOrder(t *testing.T, svc *Service) domain.Order {
	t.Helper()
	order := buildTwoUnitOrder(t, svc)
	paid, err := svc.ProcessPayment(context.Background(), domain.PaymentRequest{
		OrderID:       order.ID,
		PaymentMethod: domain.PaymentMethodCash,
		Amount:        dec("11.00"),
	})
	if err != nil {
		t.Fatalf("payment failed: %v", err)
	}
	return paid
}

func TestReturnOneOfTwoUnits(t *testing.T) {
	svc, _ := newTestService()
	paid := payTwoUnitOrder(t, svc)
	ctx := context.Background()

	resp, err := svc.CreateReturn(ctx, domain.CreateReturnRequest{
		OriginalOrderID: paid.ID,
		Reason:          "damaged",
		Items: []domain.ReturnLineRequest{{
			OriginalOrderItemID: paid.Items[0].ID,
			ReturnedQty:         dec("1"),
		}},
	})
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}

	// 11.00 line total over 2 units: one unit refunds 5.50.
	if !resp.TotalRefund.Equal(dec("5.50")) {
		t.Fatalf("expected refund 5.50, got %s", resp.TotalRefund)
	}
	if resp.ReturnOrder.Status != domain.OrderStatusReturned {
		t.Fatalf("expected returned status, got %s", resp.ReturnOrder.Status)
	}
	if resp.ReturnOrder.ParentOrderID != paid.ID {
		t.Fatalf("expected parent order %s, got %s", paid.ID, resp.ReturnOrder.ParentOrderID)
	}

	original, err := svc.GetOrder(ctx, paid.ID)
	if err != nil {
		t.Fatalf("get original failed: %v", err)
	}
	if original.Status != domain.OrderStatusPaid {
		t.Fatalf("original order must stay paid, got %s", original.Status)
	}

	movements, err := svc.ListMovements(ctx, "prd-widget", 10)
	if err != nil {
		t.Fatalf("list movements failed: %v", err)
	}
	found := false
	for _, m := range movements {
		if m.RefType == domain.RefTypeReturn && m.RefID == resp.ReturnOrder.ID {
			found = true
			if !m.QtyChange.Equal(dec("1")) || m.LocationType != domain.LocationStore {
				t.Fatalf("expected +1 return movement at store, got %s at %s", m.QtyChange, m.LocationType)
			}
		}
	}
	if !found {
		t.Fatalf("expected a return movement referencing %s", resp.ReturnOrder.ID)
	}
}

func TestReturnCapAcrossMultipleReturns(t *testing.T) {
	svc, _ := newTestService()
	paid := payTwoUnitOrder(t, svc)
	ctx := context.Background()
	itemID := paid.Items[0].ID

	for i := 0; i < 2; i++ {
		if _, err := svc.CreateReturn(ctx, domain.CreateReturnRequest{
			OriginalOrderID: paid.ID,
			Items: []domain.ReturnLineRequest{{
				OriginalOrderItemID: itemID,
				ReturnedQty:         dec("1"),
			}},
		}); err != nil {
			t.Fatalf("return %d failed: %v", i, err)
		}
	}

	_, err := svc.CreateReturn(ctx, domain.CreateReturnRequest{
		OriginalOrderID: paid.ID,
		Items: []domain.ReturnLineRequest{{
			OriginalOrderItemID: itemID,
			ReturnedQty:         dec("1"),
		}},
	})
	if !errors.Is(err, store.ErrExceedsReturnable) {
		t.Fatalf("expected cap violation on third return, got %v", err)
	}
}

func TestReturnOutsideWindowRejected(t *testing.T) {
	repo := memory.New()
	svc := New(repo, nil, nil, 14, nil)
	session := openTestSession(t, svc)
	createTestProduct(t, svc)

	paidAt := time.Now().UTC().Add(-20 * 24 * time.Hour)
	stale, err := repo.CreateOrder(context.Background(), domain.Order{
		ID:        xid.New("ord"),
		Number:    "terminal-a1-stale-0001",
		SessionID: session.ID,
		Status:    domain.OrderStatusPaid,
		PaidAt:    &paidAt,
		CreatedAt: paidAt,
		Items: []domain.OrderItem{{
			ID:        xid.New("oit"),
			ProductID: "prd-widget",
			Quantity:  dec("2"),
			UnitPrice: dec("5.00"),
			TaxRate:   dec("10"),
			LineTotal: dec("11.00"),
		}},
	})
	if err != nil {
		t.Fatalf("seed paid order failed: %v", err)
	}

	_, err = svc.CreateReturn(context.Background(), domain.CreateReturnRequest{
		OriginalOrderID: stale.ID,
		Items: []domain.ReturnLineRequest{{
			OriginalOrderItemID: stale.Items[0].ID,
			ReturnedQty:         dec("1"),
		}},
	})
	if !errors.Is(err, store.ErrReturnWindowClosed) {
		t.Fatalf("expected return window rejection, got %v", err)
	}
}

func TestReturnRefundSplitMustMatchTotal(t *testing.T) {
	svc, _ := newTestService()
	paid := payTwoUnitOrder(t, svc)

	_, err := svc.CreateReturn(context.Background(), domain.CreateReturnRequest{
		OriginalOrderID: paid.ID,
		Items: []domain.ReturnLineRequest{{
			OriginalOrderItemID: paid.Items[0].ID,
			ReturnedQty:         dec("1"),
		}},
		Refunds: []domain.RefundTenderRequest{{
			Method: domain.PaymentMethodCash,
			Amount: dec("4.00"),
		}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected refund mismatch rejection, got %v", err)
	}
}

func TestReturnRequiresManagerPIN(t *testing.T) {
	repo := memory.NewSeeded()
	pinHash, err := bcrypt.GenerateFromPassword([]byte("4321"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("hash pin: %v", err)
	}
	svc := New(repo, nil, nil, 14, pinHash)
	paid := payTwoUnitOrder(t, svc)

	_, err = svc.CreateReturn(context.Background(), domain.CreateReturnRequest{
		OriginalOrderID: paid.ID,
		ManagerPIN:      "0000",
		Items: []domain.ReturnLineRequest{{
			OriginalOrderItemID: paid.Items[0].ID,
			ReturnedQty:         dec("1"),
		}},
	})
	if !errors.Is(err, store.ErrInvalidOrderState) {
		t.Fatalf("expected manager pin rejection, got %v", err)
	}

	if _, err := svc.CreateReturn(context.Background(), domain.CreateReturnRequest{
		OriginalOrderID: paid.ID,
		ManagerPIN:      "4321",
		Items: []domain.ReturnLineRequest{{
			OriginalOrderItemID: paid.Items[0].ID,
			ReturnedQty:         dec("1"),
		}},
	}); err != nil {
		t.Fatalf("return with correct pin failed: %v", err)
	}
}

func TestProductOfferAppliedAsLineDiscount(t *testing.T) {
	svc, _ := newTestService()
	session := openTestSession(t, svc)
	product := createTestProduct(t, svc)

	if _, err := svc.CreateOffer(adminContext(), domain.OfferCreateRequest{
		Name:            "widget promo",
		Type:            domain.OfferTypeProductPercent,
		ProductID:       product.ID,
		DiscountPercent: dec("10"),
	}); err != nil {
		t.Fatalf("create offer failed: %v", err)
	}

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{SessionID: session.ID})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	order, err = svc.AddItem(context.Background(), domain.AddItemRequest{
		OrderID:   order.ID,
		ProductID: product.ID,
		Quantity:  dec("2"),
	})
	if err != nil {
		t.Fatalf("add item failed: %v", err)
	}

	if !order.Items[0].LineDiscount.Equal(dec("1.00")) {
		t.Fatalf("expected line discount 1.00, got %s", order.Items[0].LineDiscount)
	}
	if order.Items[0].OfferID == "" {
		t.Fatalf("expected offer id recorded on the line")
	}
	if !order.GrandTotal.Equal(dec("9.90")) {
		t.Fatalf("expected grand total 9.90, got %s", order.GrandTotal)
	}
}

func TestCartOfferAppliedAtPayment(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.CreateOffer(adminContext(), domain.OfferCreateRequest{
		Name:            "weekend cart",
		Type:            domain.OfferTypeCartPercent,
		DiscountPercent: dec("10"),
		MinSubtotal:     dec("5.00"),
	}); err != nil {
		t.Fatalf("create offer failed: %v", err)
	}

	order := buildTwoUnitOrder(t, svc)
	paid, err := svc.ProcessPayment(context.Background(), domain.PaymentRequest{
		OrderID:       order.ID,
		PaymentMethod: domain.PaymentMethodCash,
		Amount:        dec("9.90"),
	})
	if err != nil {
		t.Fatalf("payment failed: %v", err)
	}

	if !paid.GrandTotal.Equal(dec("9.90")) {
		t.Fatalf("expected discounted grand total 9.90, got %s", paid.GrandTotal)
	}
	if paid.DiscountReason != "weekend cart" {
		t.Fatalf("expected offer name as discount reason, got %q", paid.DiscountReason)
	}
}

func TestCreateOrderRequiresOpenSession(t *testing.T) {
	svc, _ := newTestService()
	session := openTestSession(t, svc)

	if _, err := svc.CloseSession(context.Background(), domain.SessionCloseRequest{TerminalID: session.TerminalID}); err != nil {
		t.Fatalf("close session failed: %v", err)
	}

	_, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{SessionID: session.ID})
	if !errors.Is(err, store.ErrInvalidOrderState) {
		t.Fatalf("expected rejection on closed session, got %v", err)
	}
}

func TestSessionDraftsAndHistorySplitByStatus(t *testing.T) {
	svc, _ := newTestService()
	order := buildTwoUnitOrder(t, svc)
	ctx := context.Background()

	drafts, err := svc.SessionDrafts(ctx, order.SessionID)
	if err != nil {
		t.Fatalf("drafts failed: %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("expected one draft, got %d", len(drafts))
	}

	if _, err := svc.ProcessPayment(ctx, domain.PaymentRequest{
		OrderID:       order.ID,
		PaymentMethod: domain.PaymentMethodCash,
		Amount:        dec("11.00"),
	}); err != nil {
		t.Fatalf("payment failed: %v", err)
	}

	drafts, err = svc.SessionDrafts(ctx, order.SessionID)
	if err != nil {
		t.Fatalf("drafts failed: %v", err)
	}
	if len(drafts) != 0 {
		t.Fatalf("expected no drafts after payment, got %d", len(drafts))
	}

	history, err := svc.SessionHistory(ctx, order.SessionID)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 1 || history[0].ID != order.ID {
		t.Fatalf("expected paid order in history")
	}
}

func TestAttachAndDetachCustomer(t *testing.T) {
	svc, _ := newTestService()
	order := buildTwoUnitOrder(t, svc)
	ctx := context.Background()

	attached, err := svc.AttachCustomer(ctx, order.ID, domain.AttachCustomerRequest{CustomerID: "cus-100"})
	if err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if attached.CustomerID != "cus-100" {
		t.Fatalf("expected customer attached, got %q", attached.CustomerID)
	}

	detached, err := svc.DetachCustomer(ctx, order.ID)
	if err != nil {
		t.Fatalf("detach failed: %v", err)
	}
	if detached.CustomerID != "" {
		t.Fatalf("expected customer detached, got %q", detached.CustomerID)
	}
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()
	ctx := WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})

	_, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		Name:     "Widget",
		Category: "general",
		Price:    dec("5.00"),
	})
	if !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	if _, err := svc.ReceiveStock(ctx, domain.ReceiveStockRequest{
		ProductID: "prd-espresso",
		Location:  domain.LocationWarehouse,
		Quantity:  dec("5"),
	}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for cashier receive, got %v", err)
	}
}

func TestAuthenticateSeededUsers(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	actor, err := svc.Authenticate(ctx, "admin", "admin123")
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if actor.Role != "admin" {
		t.Fatalf("expected admin role, got %s", actor.Role)
	}

	if _, err := svc.Authenticate(ctx, "admin", "wrong"); err == nil {
		t.Fatalf("expected bad password rejection")
	}
}

func TestGetReturnLoadsReturnLines(t *testing.T) {
	svc, _ := newTestService()
	paid := payTwoUnitOrder(t, svc)
	ctx := context.Background()

	created, err := svc.CreateReturn(ctx, domain.CreateReturnRequest{
		OriginalOrderID: paid.ID,
		Items: []domain.ReturnLineRequest{{
			OriginalOrderItemID: paid.Items[0].ID,
			ReturnedQty:         dec("1"),
		}},
	})
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}

	resp, err := svc.GetReturn(ctx, created.ReturnOrder.ID)
	if err != nil {
		t.Fatalf("get return failed: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 return line, got %d", len(resp.Items))
	}
	if resp.Items[0].OriginalOrderItemID != paid.Items[0].ID {
		t.Fatalf("expected line against %s, got %s", paid.Items[0].ID, resp.Items[0].OriginalOrderItemID)
	}
	if !resp.TotalRefund.Equal(dec("5.50")) {
		t.Fatalf("expected refund 5.50, got %s", resp.TotalRefund)
	}

	// A regular paid order is not addressable as a return.
	if _, err := svc.GetReturn(ctx, paid.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a non-return order, got %v", err)
	}
}

func TestUpdateCashierPasswordRotatesCredential(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if err := svc.UpdateCashierPassword(adminContext(), "cashier", "rotated-secret"); err != nil {
		t.Fatalf("update password failed: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "cashier", "cashier123"); err == nil {
		t.Fatalf("expected old password rejection")
	}
	actor, err := svc.Authenticate(ctx, "cashier", "rotated-secret")
	if err != nil {
		t.Fatalf("authenticate with new password failed: %v", err)
	}
	if actor.Role != "cashier" {
		t.Fatalf("expected cashier role, got %s", actor.Role)
	}

	cashierCtx := WithActor(ctx, domain.Actor{Username: "cashier", Role: "cashier"})
	if err := svc.UpdateCashierPassword(cashierCtx, "cashier", "another-secret"); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-admin, got %v", err)
	}
	if err := svc.UpdateCashierPassword(adminContext(), "ghost", "whatever-secret"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
}

// A sale against a line whose product row can no longer be loaded still posts,
// but the zero unit cost must leave a trace in the logs.
func TestSaleUnitCostLookupFailureRecordsZeroAndWarns(t *testing.T) {
	repo := memory.New()
	core, logs := observer.New(zapcore.WarnLevel)
	svc := New(repo, nil, zap.New(core).Sugar(), 14, nil)
	ctx := context.Background()

	session := openTestSession(t, svc)
	ghost, err := repo.CreateOrder(ctx, domain.Order{
		ID:        xid.New("ord"),
		Number:    "terminal-a1-ghost-0001",
		SessionID: session.ID,
		Status:    domain.OrderStatusDraft,
		CreatedAt: time.Now().UTC(),
		Items: []domain.OrderItem{{
			ID:        xid.New("oit"),
			ProductID: "prd-ghost",
			Quantity:  dec("1"),
			UnitPrice: dec("3.00"),
		}},
	})
	if err != nil {
		t.Fatalf("seed order failed: %v", err)
	}

	paid, err := svc.ProcessPayment(ctx, domain.PaymentRequest{
		OrderID:       ghost.ID,
		PaymentMethod: domain.PaymentMethodCash,
		Amount:        dec("3.00"),
	})
	if err != nil {
		t.Fatalf("payment failed: %v", err)
	}
	if paid.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid status, got %s", paid.Status)
	}

	movements, err := svc.ListMovements(ctx, "prd-ghost", 5)
	if err != nil {
		t.Fatalf("list movements failed: %v", err)
	}
	if len(movements) != 1 || movements[0].RefType != domain.RefTypeSale {
		t.Fatalf("expected a single sale movement, got %+v", movements)
	}
	if !movements[0].UnitCost.IsZero() {
		t.Fatalf("expected zero unit cost, got %s", movements[0].UnitCost)
	}
	if logs.FilterMessageSnippet("unit cost lookup failed").Len() == 0 {
		t.Fatalf("expected a warning about the failed unit cost lookup")
	}
}
