package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"tillpoint/backend/internal/cache"
	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/store"
	"tillpoint/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// orderUpdateAttempts bounds the optimistic retry loop on the order
// aggregate. Concurrent cashier edits to the same order are rare; three
// attempts is plenty before surfacing a conflict.
const orderUpdateAttempts = 3

const snapshotCacheTTL = 30 * time.Second

var hundred = decimal.NewFromInt(100)

type Service struct {
	repo           store.Repository
	snapshots      cache.SnapshotCache
	logger         *zap.SugaredLogger
	returnWindow   time.Duration
	managerPINHash []byte
}

func New(repo store.Repository, snapshots cache.SnapshotCache, logger *zap.SugaredLogger, returnWindowDays int, managerPINHash []byte) *Service {
	if snapshots == nil {
		snapshots = cache.NoopSnapshotCache{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if returnWindowDays < 1 {
		returnWindowDays = 14
	}

	return &Service{
		repo:           repo,
		snapshots:      snapshots,
		logger:         logger,
		returnWindow:   time.Duration(returnWindowDays) * 24 * time.Hour,
		managerPINHash: managerPINHash,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProductByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("%w: admin role required", store.ErrForbidden)
	}

	req.ID = strings.TrimSpace(req.ID)
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.ID == "" {
		req.ID = xid.New("prd")
	}
	if req.Name == "" || req.Category == "" {
		return domain.Product{}, fmt.Errorf("%w: name and category are required", store.ErrValidation)
	}
	if !req.Price.IsPositive() {
		return domain.Product{}, fmt.Errorf("%w: price must be positive", store.ErrValidation)
	}
	if req.TaxRate.IsNegative() || req.TaxRate.GreaterThan(hundred) {
		return domain.Product{}, fmt.Errorf("%w: tax rate must be between 0 and 100", store.ErrValidation)
	}
	if req.Cost.IsNegative() {
		return domain.Product{}, fmt.Errorf("%w: cost must not be negative", store.ErrValidation)
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:       req.ID,
		Name:     req.Name,
		Category: req.Category,
		Price:    req.Price.Round(2),
		TaxRate:  req.TaxRate,
		Cost:     req.Cost.Round(2),
		Active:   true,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logger.Infow("product created", "product_id", created.ID, "name", created.Name, "actor", actor.Username)
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("%w: admin role required", store.ErrForbidden)
	}

	existing, err := s.repo.GetProductByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: name must not be empty", store.ErrValidation)
		}
		updated.Name = name
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return domain.Product{}, fmt.Errorf("%w: category must not be empty", store.ErrValidation)
		}
		updated.Category = category
	}
	if req.Price != nil {
		if !req.Price.IsPositive() {
			return domain.Product{}, fmt.Errorf("%w: price must be positive", store.ErrValidation)
		}
		updated.Price = req.Price.Round(2)
	}
	if req.TaxRate != nil {
		if req.TaxRate.IsNegative() || req.TaxRate.GreaterThan(hundred) {
			return domain.Product{}, fmt.Errorf("%w: tax rate must be between 0 and 100", store.ErrValidation)
		}
		updated.TaxRate = *req.TaxRate
	}
	if req.Cost != nil {
		if req.Cost.IsNegative() {
			return domain.Product{}, fmt.Errorf("%w: cost must not be negative", store.ErrValidation)
		}
		updated.Cost = req.Cost.Round(2)
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	s.logger.Infow("product updated", "product_id", saved.ID, "active", saved.Active, "actor", actor.Username)
	return *saved, nil
}

func (s *Service) OpenSession(ctx context.Context, req domain.SessionOpenRequest) (domain.Session, error) {
	req.TerminalID = strings.TrimSpace(req.TerminalID)
	req.CashierName = strings.TrimSpace(req.CashierName)
	if req.TerminalID == "" || req.CashierName == "" {
		return domain.Session{}, fmt.Errorf("%w: terminal_id and cashier_name are required", store.ErrValidation)
	}

	session, err := s.repo.CreateSession(ctx, domain.Session{
		ID:          xid.New("ses"),
		TerminalID:  req.TerminalID,
		CashierName: req.CashierName,
		Status:      domain.SessionStatusOpen,
		OpenedAt:    time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Session{}, fmt.Errorf("%w: session already open for terminal", store.ErrConflict)
		}
		return domain.Session{}, err
	}

	s.logger.Infow("session opened", "session_id", session.ID, "terminal_id", session.TerminalID)
	return *session, nil
}

func (s *Service) CloseSession(ctx context.Context, req domain.SessionCloseRequest) (domain.Session, error) {
	req.TerminalID = strings.TrimSpace(req.TerminalID)
	if req.TerminalID == "" {
		return domain.Session{}, fmt.Errorf("%w: terminal_id is required", store.ErrValidation)
	}

	session, err := s.repo.CloseOpenSession(ctx, req.TerminalID, time.Now().UTC())
	if err != nil {
		return domain.Session{}, err
	}
	s.logger.Infow("session closed", "session_id", session.ID, "terminal_id", session.TerminalID)
	return *session, nil
}

func (s *Service) ActiveSession(ctx context.Context, terminalID string) (domain.Session, error) {
	terminalID = strings.TrimSpace(terminalID)
	if terminalID == "" {
		return domain.Session{}, fmt.Errorf("%w: terminal_id is required", store.ErrValidation)
	}
	session, err := s.repo.GetOpenSession(ctx, terminalID)
	if err != nil {
		return domain.Session{}, err
	}
	return *session, nil
}

func (s *Service) CreateOffer(ctx context.Context, req domain.OfferCreateRequest) (domain.Offer, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Offer{}, fmt.Errorf("%w: admin role required", store.ErrForbidden)
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.Name == "" {
		return domain.Offer{}, fmt.Errorf("%w: name is required", store.ErrValidation)
	}
	if req.MinSubtotal.IsNegative() {
		return domain.Offer{}, fmt.Errorf("%w: min_subtotal must not be negative", store.ErrValidation)
	}

	switch req.Type {
	case domain.OfferTypeProductPercent, domain.OfferTypeProductFlat:
		if req.ProductID == "" {
			return domain.Offer{}, fmt.Errorf("%w: product_id is required for product offers", store.ErrValidation)
		}
		if _, err := s.repo.GetProductByID(ctx, req.ProductID); err != nil {
			return domain.Offer{}, err
		}
	case domain.OfferTypeCartPercent, domain.OfferTypeCartFlat:
		req.ProductID = ""
	default:
		return domain.Offer{}, fmt.Errorf("%w: unsupported offer type", store.ErrValidation)
	}

	switch req.Type {
	case domain.OfferTypeProductPercent, domain.OfferTypeCartPercent:
		if !req.DiscountPercent.IsPositive() || req.DiscountPercent.GreaterThan(hundred) {
			return domain.Offer{}, fmt.Errorf("%w: discount_percent must be between 0 and 100", store.ErrValidation)
		}
	default:
		if !req.FlatDiscount.IsPositive() {
			return domain.Offer{}, fmt.Errorf("%w: flat_discount must be positive", store.ErrValidation)
		}
	}

	saved, err := s.repo.CreateOffer(ctx, domain.Offer{
		ID:              xid.New("ofr"),
		Name:            req.Name,
		Type:            req.Type,
		ProductID:       req.ProductID,
		DiscountPercent: req.DiscountPercent,
		FlatDiscount:    req.FlatDiscount.Round(2),
		MinSubtotal:     req.MinSubtotal.Round(2),
		Active:          true,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		return domain.Offer{}, err
	}
	s.logger.Infow("offer created", "offer_id", saved.ID, "type", saved.Type, "actor", actor.Username)
	return *saved, nil
}

func (s *Service) ListOffers(ctx context.Context) ([]domain.Offer, error) {
	return s.repo.ListOffers(ctx)
}

func (s *Service) SetOfferActive(ctx context.Context, offerID string, active bool) (domain.Offer, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Offer{}, fmt.Errorf("%w: admin role required", store.ErrForbidden)
	}

	offer, err := s.repo.UpdateOfferActive(ctx, strings.TrimSpace(offerID), active)
	if err != nil {
		return domain.Offer{}, err
	}
	s.logger.Infow("offer toggled", "offer_id", offer.ID, "active", offer.Active, "actor", actor.Username)
	return *offer, nil
}

func (s *Service) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error) {
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		return domain.Order{}, fmt.Errorf("%w: session_id is required", store.ErrValidation)
	}

	session, err := s.repo.GetSessionByID(ctx, req.SessionID)
	if err != nil {
		return domain.Order{}, err
	}
	if session.Status != domain.SessionStatusOpen {
		return domain.Order{}, fmt.Errorf("%w: session is closed", store.ErrInvalidOrderState)
	}

	seq, err := s.repo.NextOrderSequence(ctx, session.ID)
	if err != nil {
		return domain.Order{}, err
	}

	order := domain.Order{
		ID:        xid.New("ord"),
		Number:    xid.OrderNumber(session.TerminalID, seq),
		SessionID: session.ID,
		Status:    domain.OrderStatusDraft,
		CreatedAt: time.Now().UTC(),
	}
	order.Recalculate()

	saved, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		return domain.Order{}, err
	}
	s.logger.Infow("order created", "order_id", saved.ID, "number", saved.Number, "session_id", saved.SessionID)
	return *saved, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) SessionHistory(ctx context.Context, sessionID string) ([]domain.Order, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", store.ErrValidation)
	}
	return s.repo.ListSessionOrders(ctx, sessionID, []string{
		domain.OrderStatusPaid, domain.OrderStatusCancelled, domain.OrderStatusReturned,
	}, 200)
}

func (s *Service) SessionDrafts(ctx context.Context, sessionID string) ([]domain.Order, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", store.ErrValidation)
	}
	return s.repo.ListSessionOrders(ctx, sessionID, []string{
		domain.OrderStatusDraft, domain.OrderStatusHold,
	}, 200)
}

// mutateOrder runs one read-mutate-write cycle on the order aggregate,
// retrying on version conflicts so concurrent edits to the same order
// serialize instead of losing updates.
func (s *Service) mutateOrder(ctx context.Context, orderID string, mutate func(order *domain.Order) error) (domain.Order, error) {
	for attempt := 0; attempt < orderUpdateAttempts; attempt++ {
		order, err := s.repo.GetOrderByID(ctx, orderID)
		if err != nil {
			return domain.Order{}, err
		}
		if err := mutate(order); err != nil {
			return domain.Order{}, err
		}

		saved, err := s.repo.UpdateOrder(ctx, *order)
		if err == nil {
			return *saved, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return domain.Order{}, err
		}
	}
	return domain.Order{}, fmt.Errorf("%w: order is being modified concurrently", store.ErrConflict)
}

func requireEditable(order *domain.Order) error {
	if order.Status != domain.OrderStatusDraft && order.Status != domain.OrderStatusHold {
		return fmt.Errorf("%w: order is %s", store.ErrInvalidOrderState, order.Status)
	}
	return nil
}

func (s *Service) AddItem(ctx context.Context, req domain.AddItemRequest) (domain.Order, error) {
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.OrderID == "" || req.ProductID == "" {
		return domain.Order{}, fmt.Errorf("%w: order_id and product_id are required", store.ErrValidation)
	}
	if !req.Quantity.IsPositive() {
		return domain.Order{}, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}
	if req.DiscountAmount.IsNegative() {
		return domain.Order{}, fmt.Errorf("%w: discount_amount must not be negative", store.ErrValidation)
	}

	product, err := s.repo.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return domain.Order{}, err
	}
	if !product.Active {
		return domain.Order{}, fmt.Errorf("%w: product is inactive", store.ErrInvalidOrderState)
	}

	var productOffer *domain.Offer
	if req.DiscountAmount.IsZero() {
		productOffer, err = s.bestProductOffer(ctx, product.ID)
		if err != nil {
			return domain.Order{}, err
		}
	}

	return s.mutateOrder(ctx, req.OrderID, func(order *domain.Order) error {
		if err := requireEditable(order); err != nil {
			return err
		}

		// Same product lands on the existing line with a summed quantity,
		// never a second row.
		idx := -1
		for i := range order.Items {
			if order.Items[i].ProductID == product.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			order.Items = append(order.Items, domain.OrderItem{
				ID:        xid.New("oit"),
				OrderID:   order.ID,
				ProductID: product.ID,
				UnitPrice: product.Price,
				TaxRate:   product.TaxRate,
			})
			idx = len(order.Items) - 1
		}
		line := &order.Items[idx]
		line.Quantity = line.Quantity.Add(req.Quantity)
		line.UnitPrice = product.Price
		line.TaxRate = product.TaxRate

		if req.DiscountAmount.IsPositive() {
			line.LineDiscount = req.DiscountAmount.Round(2)
			line.OfferID = ""
		} else if productOffer != nil {
			line.OfferID = productOffer.ID
			line.LineDiscount = productOfferDiscount(*productOffer, line.UnitPrice, line.Quantity)
		}

		order.Recalculate()
		return nil
	})
}

func (s *Service) UpdateItemQuantity(ctx context.Context, req domain.UpdateItemQuantityRequest) (domain.Order, error) {
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.OrderID == "" || req.ProductID == "" {
		return domain.Order{}, fmt.Errorf("%w: order_id and product_id are required", store.ErrValidation)
	}
	if req.Quantity.IsZero() {
		return domain.Order{}, fmt.Errorf("%w: quantity delta must not be zero", store.ErrValidation)
	}

	return s.mutateOrder(ctx, req.OrderID, func(order *domain.Order) error {
		if err := requireEditable(order); err != nil {
			return err
		}

		idx := -1
		for i := range order.Items {
			if order.Items[i].ProductID == req.ProductID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: order line for product", store.ErrNotFound)
		}

		line := &order.Items[idx]
		next := line.Quantity.Add(req.Quantity)
		if !next.IsPositive() {
			return fmt.Errorf("%w: resulting quantity must stay positive, remove the line instead", store.ErrValidation)
		}
		line.Quantity = next

		if line.OfferID != "" {
			if offer, err := s.offerByID(ctx, line.OfferID); err == nil && offer != nil && offer.Active {
				line.LineDiscount = productOfferDiscount(*offer, line.UnitPrice, line.Quantity)
			}
		}

		order.Recalculate()
		return nil
	})
}

func (s *Service) RemoveItem(ctx context.Context, itemID string) (domain.Order, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return domain.Order{}, fmt.Errorf("%w: item id is required", store.ErrValidation)
	}

	owner, err := s.repo.GetOrderByItemID(ctx, itemID)
	if err != nil {
		return domain.Order{}, err
	}

	return s.mutateOrder(ctx, owner.ID, func(order *domain.Order) error {
		if err := requireEditable(order); err != nil {
			return err
		}

		kept := order.Items[:0]
		removed := false
		for _, line := range order.Items {
			if line.ID == itemID {
				removed = true
				continue
			}
			kept = append(kept, line)
		}
		if !removed {
			return fmt.Errorf("%w: order item", store.ErrNotFound)
		}
		order.Items = kept
		order.Recalculate()
		return nil
	})
}

func (s *Service) ApplyOrderDiscount(ctx context.Context, req domain.OrderDiscountRequest) (domain.Order, error) {
	req.OrderID = strings.TrimSpace(req.OrderID)
	if req.OrderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order_id is required", store.ErrValidation)
	}
	if (req.DiscountAmount == nil) == (req.DiscountPercentage == nil) {
		return domain.Order{}, fmt.Errorf("%w: exactly one of discount_amount and discount_percentage is required", store.ErrValidation)
	}
	if req.DiscountAmount != nil && req.DiscountAmount.IsNegative() {
		return domain.Order{}, fmt.Errorf("%w: discount_amount must not be negative", store.ErrValidation)
	}
	if req.DiscountPercentage != nil && (req.DiscountPercentage.IsNegative() || req.DiscountPercentage.GreaterThan(hundred)) {
		return domain.Order{}, fmt.Errorf("%w: discount_percentage must be between 0 and 100", store.ErrValidation)
	}

	return s.mutateOrder(ctx, req.OrderID, func(order *domain.Order) error {
		if err := requireEditable(order); err != nil {
			return err
		}

		if req.DiscountAmount != nil {
			order.OrderDiscount = req.DiscountAmount.Round(2)
		} else {
			// Percentage applies to the subtotal net of line discounts.
			base := decimal.Zero
			for _, line := range order.Items {
				net := line.UnitPrice.Mul(line.Quantity).Round(2).Sub(line.LineDiscount)
				if net.IsPositive() {
					base = base.Add(net)
				}
			}
			order.OrderDiscount = base.Mul(*req.DiscountPercentage).Div(hundred).Round(2)
		}
		order.DiscountReason = strings.TrimSpace(req.DiscountReason)
		order.Recalculate()
		return nil
	})
}

func (s *Service) HoldOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return s.mutateOrder(ctx, strings.TrimSpace(orderID), func(order *domain.Order) error {
		if order.Status != domain.OrderStatusDraft {
			return fmt.Errorf("%w: only draft orders can be held", store.ErrInvalidOrderState)
		}
		order.Status = domain.OrderStatusHold
		return nil
	})
}

func (s *Service) RetrieveOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return s.mutateOrder(ctx, strings.TrimSpace(orderID), func(order *domain.Order) error {
		if order.Status != domain.OrderStatusHold {
			return fmt.Errorf("%w: only held orders can be retrieved", store.ErrInvalidOrderState)
		}
		order.Status = domain.OrderStatusDraft
		return nil
	})
}

func (s *Service) VoidOrder(ctx context.Context, orderID string) (domain.Order, error) {
	voided, err := s.mutateOrder(ctx, strings.TrimSpace(orderID), func(order *domain.Order) error {
		if err := requireEditable(order); err != nil {
			return err
		}
		order.Status = domain.OrderStatusCancelled
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.logger.Infow("order voided", "order_id", voided.ID)
	return voided, nil
}

func (s *Service) AttachCustomer(ctx context.Context, orderID string, req domain.AttachCustomerRequest) (domain.Order, error) {
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		return domain.Order{}, fmt.Errorf("%w: customer_id is required", store.ErrValidation)
	}
	return s.mutateOrder(ctx, strings.TrimSpace(orderID), func(order *domain.Order) error {
		if err := requireEditable(order); err != nil {
			return err
		}
		order.CustomerID = customerID
		return nil
	})
}

func (s *Service) DetachCustomer(ctx context.Context, orderID string) (domain.Order, error) {
	return s.mutateOrder(ctx, strings.TrimSpace(orderID), func(order *domain.Order) error {
		if err := requireEditable(order); err != nil {
			return err
		}
		order.CustomerID = ""
		return nil
	})
}

func (s *Service) ProcessPayment(ctx context.Context, req domain.PaymentRequest) (domain.Order, error) {
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if req.OrderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order_id is required", store.ErrValidation)
	}

	var tenders []domain.Payment
	now := time.Now().UTC()
	switch req.PaymentMethod {
	case domain.PaymentMethodCash, domain.PaymentMethodCard:
		if !req.Amount.IsPositive() {
			return domain.Order{}, fmt.Errorf("%w: amount must be positive", store.ErrValidation)
		}
		tenders = []domain.Payment{{
			ID:        xid.New("pay"),
			OrderID:   req.OrderID,
			Method:    req.PaymentMethod,
			Kind:      domain.PaymentKindTender,
			Amount:    req.Amount.Round(2),
			CreatedAt: now,
		}}
	case domain.PaymentMethodSplit:
		if !req.CashAmount.IsPositive() || !req.CardAmount.IsPositive() {
			return domain.Order{}, fmt.Errorf("%w: split payment needs positive cash_amount and card_amount", store.ErrValidation)
		}
		tenders = []domain.Payment{
			{
				ID:        xid.New("pay"),
				OrderID:   req.OrderID,
				Method:    domain.PaymentMethodCash,
				Kind:      domain.PaymentKindTender,
				Amount:    req.CashAmount.Round(2),
				CreatedAt: now,
			},
			{
				ID:        xid.New("pay"),
				OrderID:   req.OrderID,
				Method:    domain.PaymentMethodCard,
				Kind:      domain.PaymentKindTender,
				Amount:    req.CardAmount.Round(2),
				CreatedAt: now,
			},
		}
	default:
		return domain.Order{}, fmt.Errorf("%w: unsupported payment method", store.ErrValidation)
	}

	tendered := decimal.Zero
	for _, t := range tenders {
		tendered = tendered.Add(t.Amount)
	}

	for attempt := 0; attempt < orderUpdateAttempts; attempt++ {
		order, err := s.repo.GetOrderByID(ctx, req.OrderID)
		if err != nil {
			return domain.Order{}, err
		}
		if order.Status == domain.OrderStatusPaid {
			return domain.Order{}, fmt.Errorf("%w: order already paid", store.ErrConflict)
		}
		if err := requireEditable(order); err != nil {
			return domain.Order{}, err
		}
		if len(order.Items) == 0 {
			return domain.Order{}, fmt.Errorf("%w: order has no items", store.ErrInvalidOrderState)
		}

		if err := s.applyBestCartOffer(ctx, order); err != nil {
			return domain.Order{}, err
		}
		order.Recalculate()

		if tendered.LessThan(order.GrandTotal) {
			return domain.Order{}, fmt.Errorf("%w: payment %s is below grand total %s", store.ErrInvalidOrderState, tendered, order.GrandTotal)
		}

		movements, err := s.saleMovements(ctx, order, now)
		if err != nil {
			return domain.Order{}, err
		}

		paidAt := now
		order.ChangeAmount = tendered.Sub(order.GrandTotal)
		order.PaidAt = &paidAt

		saved, err := s.repo.FinalizePayment(ctx, *order, tenders, movements)
		if err == nil {
			for _, line := range saved.Items {
				_ = s.snapshots.Delete(ctx, line.ProductID)
			}
			s.logger.Infow("order paid",
				"order_id", saved.ID,
				"grand_total", saved.GrandTotal,
				"tendered", tendered,
				"change", saved.ChangeAmount,
				"method", req.PaymentMethod,
			)
			return *saved, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return domain.Order{}, err
		}
	}
	return domain.Order{}, fmt.Errorf("%w: order is being modified concurrently", store.ErrConflict)
}

// saleMovements builds one SALE ledger entry per order line. Payment-driven
// decrements are deliberately lenient: they post even when the store snapshot
// would go negative, so a sale is never blocked by stale stock counts.
func (s *Service) saleMovements(ctx context.Context, order *domain.Order, at time.Time) ([]domain.InventoryMovement, error) {
	movements := make([]domain.InventoryMovement, 0, len(order.Items))
	for _, line := range order.Items {
		unitCost := decimal.Zero
		if product, err := s.repo.GetProductByID(ctx, line.ProductID); err == nil {
			unitCost = product.Cost
		} else {
			s.logger.Warnw("unit cost lookup failed, recording zero",
				"product_id", line.ProductID, "order_id", order.ID, "error", err)
		}
		movements = append(movements, domain.InventoryMovement{
			ID:           xid.New("mov"),
			ProductID:    line.ProductID,
			LocationType: domain.LocationStore,
			RefType:      domain.RefTypeSale,
			RefID:        order.ID,
			QtyChange:    line.Quantity.Neg(),
			UnitCost:     unitCost,
			MovedAt:      at,
		})
	}
	return movements, nil
}

// applyBestCartOffer folds the highest-valued active cart offer into the
// order-level discount, unless the cashier already applied a manual one.
func (s *Service) applyBestCartOffer(ctx context.Context, order *domain.Order) error {
	if order.OrderDiscount.IsPositive() {
		return nil
	}

	base := decimal.Zero
	for _, line := range order.Items {
		net := line.UnitPrice.Mul(line.Quantity).Round(2).Sub(line.LineDiscount)
		if net.IsPositive() {
			base = base.Add(net)
		}
	}
	if !base.IsPositive() {
		return nil
	}

	offers, err := s.repo.FindActiveOffers(ctx)
	if err != nil {
		return err
	}

	best := decimal.Zero
	bestName := ""
	for _, offer := range offers {
		if base.LessThan(offer.MinSubtotal) {
			continue
		}
		discount := decimal.Zero
		switch offer.Type {
		case domain.OfferTypeCartPercent:
			discount = base.Mul(offer.DiscountPercent).Div(hundred).Round(2)
		case domain.OfferTypeCartFlat:
			discount = offer.FlatDiscount
		default:
			continue
		}
		if discount.GreaterThan(best) {
			best = discount
			bestName = offer.Name
		}
	}
	if best.IsPositive() {
		if best.GreaterThan(base) {
			best = base
		}
		order.OrderDiscount = best
		order.DiscountReason = bestName
	}
	return nil
}

func (s *Service) bestProductOffer(ctx context.Context, productID string) (*domain.Offer, error) {
	offers, err := s.repo.FindActiveOffers(ctx)
	if err != nil {
		return nil, err
	}

	var best *domain.Offer
	bestValue := decimal.Zero
	for i := range offers {
		offer := offers[i]
		if offer.ProductID != productID {
			continue
		}
		var value decimal.Decimal
		switch offer.Type {
		case domain.OfferTypeProductPercent:
			value = offer.DiscountPercent
		case domain.OfferTypeProductFlat:
			value = offer.FlatDiscount.Mul(hundred)
		default:
			continue
		}
		if best == nil || value.GreaterThan(bestValue) {
			best = &offers[i]
			bestValue = value
		}
	}
	return best, nil
}

func (s *Service) offerByID(ctx context.Context, offerID string) (*domain.Offer, error) {
	offers, err := s.repo.ListOffers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range offers {
		if offers[i].ID == offerID {
			return &offers[i], nil
		}
	}
	return nil, store.ErrNotFound
}

func productOfferDiscount(offer domain.Offer, unitPrice decimal.Decimal, quantity decimal.Decimal) decimal.Decimal {
	gross := unitPrice.Mul(quantity).Round(2)
	var discount decimal.Decimal
	switch offer.Type {
	case domain.OfferTypeProductPercent:
		discount = gross.Mul(offer.DiscountPercent).Div(hundred).Round(2)
	case domain.OfferTypeProductFlat:
		discount = offer.FlatDiscount.Mul(quantity).Round(2)
	default:
		return decimal.Zero
	}
	if discount.GreaterThan(gross) {
		return gross
	}
	return discount
}

func (s *Service) CreateReturn(ctx context.Context, req domain.CreateReturnRequest) (domain.ReturnResponse, error) {
	req.OriginalOrderID = strings.TrimSpace(req.OriginalOrderID)
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.OriginalOrderID == "" {
		return domain.ReturnResponse{}, fmt.Errorf("%w: original_order_id is required", store.ErrValidation)
	}
	if len(req.Items) == 0 {
		return domain.ReturnResponse{}, fmt.Errorf("%w: at least one return line is required", store.ErrValidation)
	}
	for _, line := range req.Items {
		if strings.TrimSpace(line.OriginalOrderItemID) == "" || !line.ReturnedQty.IsPositive() {
			return domain.ReturnResponse{}, fmt.Errorf("%w: each return line needs an item id and a positive quantity", store.ErrValidation)
		}
	}

	if len(s.managerPINHash) > 0 {
		if err := bcrypt.CompareHashAndPassword(s.managerPINHash, []byte(req.ManagerPIN)); err != nil {
			return domain.ReturnResponse{}, fmt.Errorf("%w: manager approval rejected", store.ErrInvalidOrderState)
		}
	}

	original, err := s.repo.GetOrderByID(ctx, req.OriginalOrderID)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	if original.Status != domain.OrderStatusPaid || original.PaidAt == nil {
		return domain.ReturnResponse{}, fmt.Errorf("%w: only paid orders can be returned", store.ErrInvalidOrderState)
	}
	if time.Now().UTC().Sub(*original.PaidAt) > s.returnWindow {
		return domain.ReturnResponse{}, store.ErrReturnWindowClosed
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = original.SessionID
	}

	alreadyReturned, err := s.repo.ReturnedQtyByOrder(ctx, original.ID)
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	linesByID := make(map[string]domain.OrderItem, len(original.Items))
	for _, line := range original.Items {
		linesByID[line.ID] = line
	}

	now := time.Now().UTC()
	returnOrderID := xid.New("ord")
	returnItems := make([]domain.ReturnItem, 0, len(req.Items))
	orderLines := make([]domain.OrderItem, 0, len(req.Items))
	movements := make([]domain.InventoryMovement, 0, len(req.Items))
	totalRefund := decimal.Zero

	for _, reqLine := range req.Items {
		line, exists := linesByID[reqLine.OriginalOrderItemID]
		if !exists {
			return domain.ReturnResponse{}, fmt.Errorf("%w: original order item", store.ErrNotFound)
		}
		if alreadyReturned[line.ID].Add(reqLine.ReturnedQty).GreaterThan(line.Quantity) {
			return domain.ReturnResponse{}, fmt.Errorf("%w: item %s", store.ErrExceedsReturnable, line.ID)
		}

		// The refund preserves the effective per-unit price of the original
		// line, net of its discounts and inclusive of its tax share.
		refund := line.LineTotal.Mul(reqLine.ReturnedQty).Div(line.Quantity).Round(2)
		totalRefund = totalRefund.Add(refund)

		returnItems = append(returnItems, domain.ReturnItem{
			ID:                  xid.New("rti"),
			ReturnOrderID:       returnOrderID,
			OriginalOrderItemID: line.ID,
			ReturnedQty:         reqLine.ReturnedQty,
			RefundAmount:        refund,
		})
		orderLines = append(orderLines, domain.OrderItem{
			ID:        xid.New("oit"),
			OrderID:   returnOrderID,
			ProductID: line.ProductID,
			Quantity:  reqLine.ReturnedQty,
			UnitPrice: line.UnitPrice,
			TaxRate:   line.TaxRate,
			LineTotal: refund,
		})

		unitCost := decimal.Zero
		if product, err := s.repo.GetProductByID(ctx, line.ProductID); err == nil {
			unitCost = product.Cost
		} else {
			s.logger.Warnw("unit cost lookup failed, recording zero",
				"product_id", line.ProductID, "return_order_id", returnOrderID, "error", err)
		}
		movements = append(movements, domain.InventoryMovement{
			ID:           xid.New("mov"),
			ProductID:    line.ProductID,
			LocationType: domain.LocationStore,
			RefType:      domain.RefTypeReturn,
			RefID:        returnOrderID,
			QtyChange:    reqLine.ReturnedQty,
			UnitCost:     unitCost,
			Note:         strings.TrimSpace(req.Reason),
			MovedAt:      now,
		})
	}

	refunds := req.Refunds
	if len(refunds) == 0 {
		refunds = []domain.RefundTenderRequest{{Method: domain.PaymentMethodCash, Amount: totalRefund}}
	}
	refundTotal := decimal.Zero
	payments := make([]domain.Payment, 0, len(refunds))
	for _, refund := range refunds {
		method := strings.ToLower(strings.TrimSpace(refund.Method))
		if method != domain.PaymentMethodCash && method != domain.PaymentMethodCard {
			return domain.ReturnResponse{}, fmt.Errorf("%w: unsupported refund method", store.ErrValidation)
		}
		if !refund.Amount.IsPositive() {
			return domain.ReturnResponse{}, fmt.Errorf("%w: refund amount must be positive", store.ErrValidation)
		}
		refundTotal = refundTotal.Add(refund.Amount)
		payments = append(payments, domain.Payment{
			ID:        xid.New("pay"),
			OrderID:   returnOrderID,
			Method:    method,
			Kind:      domain.PaymentKindRefund,
			Amount:    refund.Amount.Round(2).Neg(),
			CreatedAt: now,
		})
	}
	// Tolerate one cent of rounding drift between the requested refund split
	// and the computed total.
	if refundTotal.Sub(totalRefund).Abs().GreaterThan(decimal.New(1, -2)) {
		return domain.ReturnResponse{}, fmt.Errorf("%w: refunds %s do not match refundable total %s", store.ErrValidation, refundTotal, totalRefund)
	}

	seq, err := s.repo.NextOrderSequence(ctx, sessionID)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	terminalID := "return"
	if session, err := s.repo.GetSessionByID(ctx, sessionID); err == nil {
		terminalID = session.TerminalID
	}

	returnOrder := domain.Order{
		ID:            returnOrderID,
		Number:        xid.OrderNumber(terminalID, seq),
		SessionID:     sessionID,
		ParentOrderID: original.ID,
		Status:        domain.OrderStatusReturned,
		Subtotal:      totalRefund,
		GrandTotal:    totalRefund,
		CreatedAt:     now,
		Items:         orderLines,
	}

	saved, err := s.repo.CreateReturnOrder(ctx, returnOrder, returnItems, payments, movements)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	for _, m := range movements {
		_ = s.snapshots.Delete(ctx, m.ProductID)
	}

	s.logger.Infow("return created",
		"return_order_id", saved.ID,
		"original_order_id", original.ID,
		"total_refund", totalRefund,
		"lines", len(returnItems),
	)

	return domain.ReturnResponse{
		ReturnOrder: *saved,
		Items:       returnItems,
		TotalRefund: totalRefund,
	}, nil
}

// GetReturn loads a previously created return order with its return lines.
func (s *Service) GetReturn(ctx context.Context, returnOrderID string) (domain.ReturnResponse, error) {
	returnOrderID = strings.TrimSpace(returnOrderID)
	if returnOrderID == "" {
		return domain.ReturnResponse{}, fmt.Errorf("%w: return order id is required", store.ErrValidation)
	}

	order, err := s.repo.GetOrderByID(ctx, returnOrderID)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	if order.Status != domain.OrderStatusReturned || order.ParentOrderID == "" {
		return domain.ReturnResponse{}, fmt.Errorf("%w: order %s is not a return", store.ErrNotFound, returnOrderID)
	}

	items, err := s.repo.ListReturnItems(ctx, returnOrderID)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	return domain.ReturnResponse{
		ReturnOrder: *order,
		Items:       items,
		TotalRefund: order.GrandTotal,
	}, nil
}

func (s *Service) ReceiveStock(ctx context.Context, req domain.ReceiveStockRequest) (domain.InventoryMovement, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.InventoryMovement{}, fmt.Errorf("%w: admin role required", store.ErrForbidden)
	}

	req.ProductID = strings.TrimSpace(req.ProductID)
	location, err := normalizeLocation(req.Location, domain.LocationWarehouse)
	if err != nil {
		return domain.InventoryMovement{}, err
	}
	if req.ProductID == "" || !req.Quantity.IsPositive() {
		return domain.InventoryMovement{}, fmt.Errorf("%w: product_id and a positive quantity are required", store.ErrValidation)
	}

	unitCost, err := s.resolveUnitCost(ctx, req.ProductID, req.UnitCost)
	if err != nil {
		return domain.InventoryMovement{}, err
	}

	movement, err := s.repo.RecordMovement(ctx, domain.InventoryMovement{
		ID:           xid.New("mov"),
		ProductID:    req.ProductID,
		LocationType: location,
		RefType:      domain.RefTypePurchase,
		QtyChange:    req.Quantity,
		UnitCost:     unitCost,
		Note:         strings.TrimSpace(req.Note),
		MovedAt:      time.Now().UTC(),
	}, false)
	if err != nil {
		return domain.InventoryMovement{}, err
	}
	_ = s.snapshots.Delete(ctx, req.ProductID)
	s.logger.Infow("stock received", "product_id", req.ProductID, "location", location, "qty", req.Quantity)
	return *movement, nil
}

func (s *Service) TransferToStore(ctx context.Context, req domain.TransferRequest) error {
	return s.transfer(ctx, req, domain.LocationWarehouse, domain.LocationStore)
}

func (s *Service) TransferToWarehouse(ctx context.Context, req domain.TransferRequest) error {
	return s.transfer(ctx, req, domain.LocationStore, domain.LocationWarehouse)
}

func (s *Service) transfer(ctx context.Context, req domain.TransferRequest, from string, to string) error {
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" || !req.Quantity.IsPositive() {
		return fmt.Errorf("%w: product_id and a positive quantity are required", store.ErrValidation)
	}

	unitCost, err := s.resolveUnitCost(ctx, req.ProductID, req.UnitCost)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	transferID := xid.New("trf")
	note := strings.TrimSpace(req.Note)
	out := domain.InventoryMovement{
		ID:           xid.New("mov"),
		ProductID:    req.ProductID,
		LocationType: from,
		RefType:      domain.RefTypeTransfer,
		RefID:        transferID,
		QtyChange:    req.Quantity.Neg(),
		UnitCost:     unitCost,
		Note:         note,
		MovedAt:      now,
	}
	in := domain.InventoryMovement{
		ID:           xid.New("mov"),
		ProductID:    req.ProductID,
		LocationType: to,
		RefType:      domain.RefTypeTransfer,
		RefID:        transferID,
		QtyChange:    req.Quantity,
		UnitCost:     unitCost,
		Note:         note,
		MovedAt:      now,
	}

	if err := s.repo.Transfer(ctx, out, in); err != nil {
		return err
	}
	_ = s.snapshots.Delete(ctx, req.ProductID)
	s.logger.Infow("stock transferred", "product_id", req.ProductID, "from", from, "to", to, "qty", req.Quantity)
	return nil
}

func (s *Service) AdjustStock(ctx context.Context, req domain.AdjustmentRequest) (domain.InventoryMovement, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.InventoryMovement{}, fmt.Errorf("%w: admin role required", store.ErrForbidden)
	}

	req.ProductID = strings.TrimSpace(req.ProductID)
	location, err := normalizeLocation(req.Location, "")
	if err != nil {
		return domain.InventoryMovement{}, err
	}
	if req.ProductID == "" || !req.Quantity.IsPositive() {
		return domain.InventoryMovement{}, fmt.Errorf("%w: product_id and a positive quantity are required", store.ErrValidation)
	}

	direction := strings.ToLower(strings.TrimSpace(req.Direction))
	qty := req.Quantity
	strict := false
	switch direction {
	case domain.AdjustDirectionIn:
	case domain.AdjustDirectionOut:
		qty = qty.Neg()
		strict = true
	default:
		return domain.InventoryMovement{}, fmt.Errorf("%w: direction must be in or out", store.ErrValidation)
	}

	movement, err := s.repo.RecordMovement(ctx, domain.InventoryMovement{
		ID:           xid.New("mov"),
		ProductID:    req.ProductID,
		LocationType: location,
		RefType:      domain.RefTypeAdjustment,
		QtyChange:    qty,
		Note:         strings.TrimSpace(req.Note),
		MovedAt:      time.Now().UTC(),
	}, strict)
	if err != nil {
		return domain.InventoryMovement{}, err
	}
	_ = s.snapshots.Delete(ctx, req.ProductID)
	s.logger.Infow("stock adjusted", "product_id", req.ProductID, "location", location, "direction", direction, "qty", req.Quantity, "actor", actor.Username)
	return *movement, nil
}

func (s *Service) WasteStock(ctx context.Context, req domain.WasteRequest) (domain.InventoryMovement, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.InventoryMovement{}, fmt.Errorf("%w: admin role required", store.ErrForbidden)
	}

	req.ProductID = strings.TrimSpace(req.ProductID)
	location, err := normalizeLocation(req.Location, domain.LocationStore)
	if err != nil {
		return domain.InventoryMovement{}, err
	}
	if req.ProductID == "" || !req.Quantity.IsPositive() {
		return domain.InventoryMovement{}, fmt.Errorf("%w: product_id and a positive quantity are required", store.ErrValidation)
	}

	// WASTED only ever removes stock.
	movement, err := s.repo.RecordMovement(ctx, domain.InventoryMovement{
		ID:           xid.New("mov"),
		ProductID:    req.ProductID,
		LocationType: location,
		RefType:      domain.RefTypeWasted,
		QtyChange:    req.Quantity.Neg(),
		Note:         strings.TrimSpace(req.Note),
		MovedAt:      time.Now().UTC(),
	}, true)
	if err != nil {
		return domain.InventoryMovement{}, err
	}
	_ = s.snapshots.Delete(ctx, req.ProductID)
	s.logger.Infow("stock wasted", "product_id", req.ProductID, "location", location, "qty", req.Quantity, "actor", actor.Username)
	return *movement, nil
}

func (s *Service) GetStockSnapshot(ctx context.Context, productID string) (domain.StockSnapshot, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.StockSnapshot{}, fmt.Errorf("%w: product id is required", store.ErrValidation)
	}

	if cached, ok, err := s.snapshots.Get(ctx, productID); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		s.logger.Warnw("snapshot cache read failed", "product_id", productID, "error", err)
	}

	snap, err := s.repo.GetSnapshot(ctx, productID)
	if err != nil {
		return domain.StockSnapshot{}, err
	}
	if err := s.snapshots.Set(ctx, productID, snap, snapshotCacheTTL); err != nil {
		s.logger.Warnw("snapshot cache write failed", "product_id", productID, "error", err)
	}
	return *snap, nil
}

func (s *Service) ListMovements(ctx context.Context, productID string, limit int) ([]domain.InventoryMovement, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, fmt.Errorf("%w: product id is required", store.ErrValidation)
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	if _, err := s.repo.GetProductByID(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListMovements(ctx, productID, limit)
}

func (s *Service) ReconcileStock(ctx context.Context, productID string) (domain.ReconcileResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.ReconcileResponse{}, fmt.Errorf("%w: admin role required", store.ErrForbidden)
	}

	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.ReconcileResponse{}, fmt.Errorf("%w: product id is required", store.ErrValidation)
	}

	prev, err := s.repo.GetSnapshot(ctx, productID)
	if err != nil {
		return domain.ReconcileResponse{}, err
	}
	rebuilt, err := s.repo.ReconcileSnapshot(ctx, productID)
	if err != nil {
		return domain.ReconcileResponse{}, err
	}
	_ = s.snapshots.Delete(ctx, productID)

	drift := !prev.StoreQty.Equal(rebuilt.StoreQty) || !prev.WarehouseQty.Equal(rebuilt.WarehouseQty)
	if drift {
		s.logger.Warnw("snapshot drift repaired",
			"product_id", productID,
			"prev_store", prev.StoreQty, "store", rebuilt.StoreQty,
			"prev_warehouse", prev.WarehouseQty, "warehouse", rebuilt.WarehouseQty,
		)
	}

	return domain.ReconcileResponse{
		Snapshot:      *rebuilt,
		PrevStore:     prev.StoreQty,
		PrevWarehouse: prev.WarehouseQty,
		Drift:         drift,
	}, nil
}

func (s *Service) Authenticate(ctx context.Context, username string, password string) (domain.Actor, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || password == "" {
		return domain.Actor{}, fmt.Errorf("%w: username and password are required", store.ErrValidation)
	}

	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	for _, user := range users {
		if user.Username != username || !user.Active {
			continue
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
			break
		}
		return domain.Actor{Username: user.Username, Role: user.Role}, nil
	}
	return domain.Actor{}, fmt.Errorf("invalid credentials")
}

func (s *Service) CreateCashier(ctx context.Context, req domain.CashierCreateRequest) (domain.CashierUser, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.CashierUser{}, fmt.Errorf("%w: admin role required", store.ErrForbidden)
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" || len(req.Password) < 8 {
		return domain.CashierUser{}, fmt.Errorf("%w: username and a password of at least 8 characters are required", store.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.CashierUser{}, err
	}

	now := time.Now().UTC()
	if err := s.repo.CreateUser(ctx, domain.UserAccount{
		Username:  username,
		Password:  string(hash),
		Role:      "cashier",
		Active:    true,
		CreatedAt: now,
	}); err != nil {
		return domain.CashierUser{}, err
	}

	s.logger.Infow("cashier created", "username", username, "actor", actor.Username)
	return domain.CashierUser{Username: username, Role: "cashier", Active: true, CreatedAt: now}, nil
}

func (s *Service) UpdateCashierPassword(ctx context.Context, username string, password string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("%w: admin role required", store.ErrForbidden)
	}

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || len(password) < 8 {
		return fmt.Errorf("%w: username and a password of at least 8 characters are required", store.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateUserPassword(ctx, username, string(hash)); err != nil {
		return err
	}

	s.logger.Infow("cashier password updated", "username", username, "actor", actor.Username)
	return nil
}

func (s *Service) ListCashiers(ctx context.Context) ([]domain.CashierUser, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]domain.CashierUser, 0, len(users))
	for _, user := range users {
		result = append(result, domain.CashierUser{
			Username:  user.Username,
			Role:      user.Role,
			Active:    user.Active,
			CreatedAt: user.CreatedAt,
		})
	}
	return result, nil
}

func (s *Service) resolveUnitCost(ctx context.Context, productID string, override *decimal.Decimal) (decimal.Decimal, error) {
	if override != nil {
		if override.IsNegative() {
			return decimal.Zero, fmt.Errorf("%w: unit_cost must not be negative", store.ErrValidation)
		}
		return override.Round(2), nil
	}
	product, err := s.repo.GetProductByID(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	return product.Cost, nil
}

func normalizeLocation(location string, fallback string) (string, error) {
	location = strings.ToLower(strings.TrimSpace(location))
	if location == "" {
		location = fallback
	}
	switch location {
	case domain.LocationStore, domain.LocationWarehouse:
		return location, nil
	default:
		return "", fmt.Errorf("%w: location must be store or warehouse", store.ErrValidation)
	}
}
