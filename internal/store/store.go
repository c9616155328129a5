package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tillpoint/backend/internal/domain"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidOrderState  = errors.New("invalid order state")
	ErrConflict           = errors.New("conflict")
	ErrVersionConflict    = errors.New("version conflict")
	ErrExceedsReturnable  = errors.New("exceeds returnable quantity")
	ErrReturnWindowClosed = errors.New("return window closed")
)

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	CreateSession(ctx context.Context, session domain.Session) (*domain.Session, error)
	GetSessionByID(ctx context.Context, id string) (*domain.Session, error)
	GetOpenSession(ctx context.Context, terminalID string) (*domain.Session, error)
	CloseOpenSession(ctx context.Context, terminalID string, closedAt time.Time) (*domain.Session, error)

	CreateOffer(ctx context.Context, offer domain.Offer) (*domain.Offer, error)
	ListOffers(ctx context.Context) ([]domain.Offer, error)
	UpdateOfferActive(ctx context.Context, offerID string, active bool) (*domain.Offer, error)
	FindActiveOffers(ctx context.Context) ([]domain.Offer, error)

	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	GetOrderByItemID(ctx context.Context, itemID string) (*domain.Order, error)
	// UpdateOrder persists the order only when the stored version matches
	// order.Version; on success the stored version is bumped. A mismatch
	// returns ErrVersionConflict.
	UpdateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	ListSessionOrders(ctx context.Context, sessionID string, statuses []string, limit int) ([]domain.Order, error)
	NextOrderSequence(ctx context.Context, sessionID string) (int64, error)

	// FinalizePayment atomically writes the payments, flips the order to
	// paid, and posts the sale movements with their snapshot updates.
	FinalizePayment(ctx context.Context, order domain.Order, payments []domain.Payment, movements []domain.InventoryMovement) (*domain.Order, error)

	// CreateReturnOrder atomically writes the return order, its return
	// items, the refund payments, and the restock movements. The per-line
	// returnable cap is rechecked inside the transaction.
	CreateReturnOrder(ctx context.Context, returnOrder domain.Order, items []domain.ReturnItem, payments []domain.Payment, movements []domain.InventoryMovement) (*domain.Order, error)
	ReturnedQtyByOrder(ctx context.Context, originalOrderID string) (map[string]decimal.Decimal, error)
	ListReturnItems(ctx context.Context, returnOrderID string) ([]domain.ReturnItem, error)

	// RecordMovement appends one ledger entry and write-through updates the
	// snapshot. With strict set, a decrement below zero available quantity
	// fails with ErrInsufficientStock instead of posting.
	RecordMovement(ctx context.Context, movement domain.InventoryMovement, strict bool) (*domain.InventoryMovement, error)
	// Transfer posts the paired out/in movements in one transaction after
	// validating the source location holds enough stock.
	Transfer(ctx context.Context, out domain.InventoryMovement, in domain.InventoryMovement) error
	GetSnapshot(ctx context.Context, productID string) (*domain.StockSnapshot, error)
	ListMovements(ctx context.Context, productID string, limit int) ([]domain.InventoryMovement, error)
	// ReconcileSnapshot re-sums the ledger for the product and rewrites the
	// snapshot from scratch, returning the rebuilt row.
	ReconcileSnapshot(ctx context.Context, productID string) (*domain.StockSnapshot, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
