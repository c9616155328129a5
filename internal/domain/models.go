package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Price    decimal.Decimal `json:"price"`
	TaxRate  decimal.Decimal `json:"tax_rate"`
	Cost     decimal.Decimal `json:"cost"`
	Active   bool            `json:"active"`
}

type ProductCreateRequest struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Price    decimal.Decimal `json:"price"`
	TaxRate  decimal.Decimal `json:"tax_rate"`
	Cost     decimal.Decimal `json:"cost"`
}

type ProductUpdateRequest struct {
	Name     *string          `json:"name,omitempty"`
	Category *string          `json:"category,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	TaxRate  *decimal.Decimal `json:"tax_rate,omitempty"`
	Cost     *decimal.Decimal `json:"cost,omitempty"`
	Active   *bool            `json:"active,omitempty"`
}

// Order is the cart/sale aggregate. A return is also an Order (status
// "returned") whose ParentOrderID points at the original sale; the original
// order is never mutated by a return.
type Order struct {
	ID             string          `json:"id"`
	Number         string          `json:"number"`
	SessionID      string          `json:"session_id"`
	CustomerID     string          `json:"customer_id,omitempty"`
	ParentOrderID  string          `json:"parent_order_id,omitempty"`
	Status         string          `json:"status"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountTotal  decimal.Decimal `json:"discount_total"`
	TaxTotal       decimal.Decimal `json:"tax_total"`
	GrandTotal     decimal.Decimal `json:"grand_total"`
	OrderDiscount  decimal.Decimal `json:"order_discount"`
	DiscountReason string          `json:"discount_reason,omitempty"`
	ChangeAmount   decimal.Decimal `json:"change_amount"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	Version        int             `json:"-"`
	Items          []OrderItem     `json:"items"`
	Payments       []Payment       `json:"payments,omitempty"`
}

type OrderItem struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	ProductID    string          `json:"product_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	LineDiscount decimal.Decimal `json:"line_discount"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	TaxAmount    decimal.Decimal `json:"tax_amount"`
	LineTotal    decimal.Decimal `json:"line_total"`
	OfferID      string          `json:"offer_id,omitempty"`
}

// Payment records one tender on a sale, or one refund disbursement on a
// return order (Kind "refund", negative amount).
type Payment struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	Method    string          `json:"method"`
	Kind      string          `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// InventoryMovement is one immutable signed entry in the stock ledger.
type InventoryMovement struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"product_id"`
	LocationType string          `json:"location_type"`
	RefType      string          `json:"ref_type"`
	RefID        string          `json:"ref_id,omitempty"`
	QtyChange    decimal.Decimal `json:"qty_change"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	Note         string          `json:"note,omitempty"`
	MovedAt      time.Time       `json:"moved_at"`
}

// StockSnapshot is a cached projection of the movement ledger. The ledger
// stays the source of truth; Reconcile rebuilds a drifted snapshot.
type StockSnapshot struct {
	ProductID     string          `json:"product_id"`
	StoreQty      decimal.Decimal `json:"store_qty"`
	WarehouseQty  decimal.Decimal `json:"warehouse_qty"`
	LastUpdatedAt time.Time       `json:"last_updated_at"`
}

// ReturnItem links one line of a return order back to the original sale line.
type ReturnItem struct {
	ID                  string          `json:"id"`
	ReturnOrderID       string          `json:"return_order_id"`
	OriginalOrderItemID string          `json:"original_order_item_id"`
	ReturnedQty         decimal.Decimal `json:"returned_qty"`
	RefundAmount        decimal.Decimal `json:"refund_amount"`
}

type Session struct {
	ID          string     `json:"id"`
	TerminalID  string     `json:"terminal_id"`
	CashierName string     `json:"cashier_name"`
	Status      string     `json:"status"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// Offer is a discount rule. Product-scoped offers become line discounts when
// the product is added; cart-scoped offers feed the order-level discount.
type Offer struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	ProductID       string          `json:"product_id,omitempty"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	FlatDiscount    decimal.Decimal `json:"flat_discount"`
	MinSubtotal     decimal.Decimal `json:"min_subtotal"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
}

type CreateOrderRequest struct {
	SessionID string `json:"session_id"`
}

type AddItemRequest struct {
	OrderID        string          `json:"order_id"`
	ProductID      string          `json:"product_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
}

// UpdateItemQuantityRequest carries a signed delta, not an absolute quantity.
type UpdateItemQuantityRequest struct {
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type OrderDiscountRequest struct {
	OrderID            string           `json:"order_id"`
	DiscountAmount     *decimal.Decimal `json:"discount_amount,omitempty"`
	DiscountPercentage *decimal.Decimal `json:"discount_percentage,omitempty"`
	DiscountReason     string           `json:"discount_reason,omitempty"`
}

type PaymentRequest struct {
	OrderID       string          `json:"order_id"`
	PaymentMethod string          `json:"payment_method"`
	Amount        decimal.Decimal `json:"amount"`
	CashAmount    decimal.Decimal `json:"cash_amount"`
	CardAmount    decimal.Decimal `json:"card_amount"`
}

type AttachCustomerRequest struct {
	CustomerID string `json:"customer_id"`
}

type ReturnLineRequest struct {
	OriginalOrderItemID string          `json:"original_order_item_id"`
	ReturnedQty         decimal.Decimal `json:"returned_qty"`
}

type RefundTenderRequest struct {
	Method string          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

type CreateReturnRequest struct {
	OriginalOrderID string                `json:"original_order_id"`
	SessionID       string                `json:"session_id"`
	Reason          string                `json:"reason"`
	ManagerPIN      string                `json:"manager_pin"`
	Items           []ReturnLineRequest   `json:"items"`
	Refunds         []RefundTenderRequest `json:"refunds"`
}

type ReturnResponse struct {
	ReturnOrder Order           `json:"return_order"`
	Items       []ReturnItem    `json:"items"`
	TotalRefund decimal.Decimal `json:"total_refund"`
}

type TransferRequest struct {
	ProductID string           `json:"product_id"`
	Quantity  decimal.Decimal  `json:"quantity"`
	UnitCost  *decimal.Decimal `json:"unit_cost,omitempty"`
	Note      string           `json:"note,omitempty"`
}

type ReceiveStockRequest struct {
	ProductID string           `json:"product_id"`
	Location  string           `json:"location"`
	Quantity  decimal.Decimal  `json:"quantity"`
	UnitCost  *decimal.Decimal `json:"unit_cost,omitempty"`
	Note      string           `json:"note,omitempty"`
}

type AdjustmentRequest struct {
	ProductID string          `json:"product_id"`
	Location  string          `json:"location"`
	Quantity  decimal.Decimal `json:"quantity"`
	Direction string          `json:"direction"`
	Note      string          `json:"note,omitempty"`
}

type WasteRequest struct {
	ProductID string          `json:"product_id"`
	Location  string          `json:"location"`
	Quantity  decimal.Decimal `json:"quantity"`
	Note      string          `json:"note,omitempty"`
}

type ReconcileResponse struct {
	Snapshot      StockSnapshot   `json:"snapshot"`
	PrevStore     decimal.Decimal `json:"previous_store_qty"`
	PrevWarehouse decimal.Decimal `json:"previous_warehouse_qty"`
	Drift         bool            `json:"drift"`
}

type SessionOpenRequest struct {
	TerminalID  string `json:"terminal_id"`
	CashierName string `json:"cashier_name"`
}

type SessionCloseRequest struct {
	TerminalID string `json:"terminal_id"`
}

type OfferCreateRequest struct {
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	ProductID       string          `json:"product_id,omitempty"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	FlatDiscount    decimal.Decimal `json:"flat_discount"`
	MinSubtotal     decimal.Decimal `json:"min_subtotal"`
}

type OfferToggleRequest struct {
	Active bool `json:"active"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type PasswordUpdateRequest struct {
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	OrderStatusDraft     = "draft"
	OrderStatusHold      = "hold"
	OrderStatusPaid      = "paid"
	OrderStatusCancelled = "cancelled"
	OrderStatusReturned  = "returned"
)

const (
	PaymentMethodCash  = "cash"
	PaymentMethodCard  = "card"
	PaymentMethodSplit = "split"
)

const (
	PaymentKindTender = "tender"
	PaymentKindRefund = "refund"
)

const (
	LocationWarehouse = "warehouse"
	LocationStore     = "store"
)

const (
	RefTypePurchase   = "purchase"
	RefTypeSale       = "sale"
	RefTypeReturn     = "return"
	RefTypeTransfer   = "transfer"
	RefTypeAdjustment = "adjustment"
	RefTypeWasted     = "wasted"
)

const (
	SessionStatusOpen   = "open"
	SessionStatusClosed = "closed"
)

const (
	OfferTypeProductPercent = "product_percent"
	OfferTypeProductFlat    = "product_flat"
	OfferTypeCartPercent    = "cart_percent"
	OfferTypeCartFlat       = "cart_flat"
)

const (
	AdjustDirectionIn  = "in"
	AdjustDirectionOut = "out"
)
