package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/store"
	"tillpoint/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	sessionsByID    map[string]domain.Session
	openSessionByT  map[string]string
	offersByID      map[string]domain.Offer
	ordersByID      map[string]*domain.Order
	orderIDByItemID map[string]string
	returnItemsByID map[string]domain.ReturnItem
	movements       map[string][]domain.InventoryMovement
	snapshots       map[string]domain.StockSnapshot
	orderSeq        map[string]int64
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func NewSeeded() *Store {
	products := []domain.Product{
		{ID: "prd-espresso", Name: "Espresso", Category: "beverage", Price: dec("2.50"), TaxRate: dec("10"), Cost: dec("0.60"), Active: true},
		{ID: "prd-latte", Name: "Caffe Latte", Category: "beverage", Price: dec("3.80"), TaxRate: dec("10"), Cost: dec("1.10"), Active: true},
		{ID: "prd-croissant", Name: "Butter Croissant", Category: "bakery", Price: dec("2.20"), TaxRate: dec("5"), Cost: dec("0.70"), Active: true},
		{ID: "prd-baguette", Name: "Baguette", Category: "bakery", Price: dec("1.90"), TaxRate: dec("5"), Cost: dec("0.55"), Active: true},
		{ID: "prd-sandwich", Name: "Club Sandwich", Category: "food", Price: dec("5.40"), TaxRate: dec("10"), Cost: dec("2.10"), Active: true},
		{ID: "prd-water", Name: "Mineral Water 500ml", Category: "beverage", Price: dec("1.20"), TaxRate: dec("0"), Cost: dec("0.30"), Active: true},
		{ID: "prd-juice", Name: "Orange Juice", Category: "beverage", Price: dec("2.90"), TaxRate: dec("10"), Cost: dec("1.00"), Active: true},
		{ID: "prd-cookie", Name: "Chocolate Cookie", Category: "bakery", Price: dec("1.50"), TaxRate: dec("5"), Cost: dec("0.40"), Active: true},
	}

	productMap := make(map[string]domain.Product, len(products))
	snapshots := make(map[string]domain.StockSnapshot, len(products))
	movements := make(map[string][]domain.InventoryMovement, len(products))
	now := time.Now().UTC()
	for _, p := range products {
		productMap[p.ID] = p
		seed := domain.InventoryMovement{
			ID:           xid.New("mov"),
			ProductID:    p.ID,
			LocationType: domain.LocationWarehouse,
			RefType:      domain.RefTypePurchase,
			QtyChange:    decimal.NewFromInt(100),
			UnitCost:     p.Cost,
			Note:         "seed stock",
			MovedAt:      now,
		}
		movements[p.ID] = []domain.InventoryMovement{seed}
		snapshots[p.ID] = domain.StockSnapshot{
			ProductID:     p.ID,
			StoreQty:      decimal.Zero,
			WarehouseQty:  decimal.NewFromInt(100),
			LastUpdatedAt: now,
		}
	}

	return &Store{
		products:        productMap,
		sessionsByID:    make(map[string]domain.Session),
		openSessionByT:  make(map[string]string),
		offersByID:      make(map[string]domain.Offer),
		ordersByID:      make(map[string]*domain.Order),
		orderIDByItemID: make(map[string]string),
		returnItemsByID: make(map[string]domain.ReturnItem),
		movements:       movements,
		snapshots:       snapshots,
		orderSeq:        make(map[string]int64),
		usersByUsername: seedUsers(),
	}
}

// New returns an empty store with only the seed user accounts, for tests
// that want full control over catalog and stock.
func New() *Store {
	s := NewSeeded()
	s.products = make(map[string]domain.Product)
	s.movements = make(map[string][]domain.InventoryMovement)
	s.snapshots = make(map[string]domain.StockSnapshot)
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.Name == "" || product.Category == "" || !product.Price.IsPositive() {
		return nil, store.ErrInvalidOrderState
	}
	if product.TaxRate.IsNegative() || product.TaxRate.GreaterThan(decimal.NewFromInt(100)) {
		return nil, store.ErrInvalidOrderState
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrConflict
	}

	product.Active = true
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.Name == "" || product.Category == "" || !product.Price.IsPositive() {
		return nil, store.ErrInvalidOrderState
	}
	if _, exists := s.products[product.ID]; !exists {
		return nil, store.ErrNotFound
	}

	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) CreateSession(_ context.Context, session domain.Session) (*domain.Session, error) {
	if strings.TrimSpace(session.TerminalID) == "" {
		return nil, store.ErrInvalidOrderState
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.openSessionByT[session.TerminalID]; exists {
		return nil, store.ErrConflict
	}
	if session.ID == "" {
		session.ID = xid.New("ses")
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	session.Status = domain.SessionStatusOpen
	session.ClosedAt = nil

	s.sessionsByID[session.ID] = session
	s.openSessionByT[session.TerminalID] = session.ID
	copySession := session
	return &copySession, nil
}

func (s *Store) GetSessionByID(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessionsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySession := session
	return &copySession, nil
}

func (s *Store) GetOpenSession(_ context.Context, terminalID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessionID, exists := s.openSessionByT[terminalID]
	if !exists {
		return nil, store.ErrNotFound
	}
	session, exists := s.sessionsByID[sessionID]
	if !exists || session.Status != domain.SessionStatusOpen {
		return nil, store.ErrNotFound
	}
	copySession := session
	return &copySession, nil
}

func (s *Store) CloseOpenSession(_ context.Context, terminalID string, closedAt time.Time) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionID, exists := s.openSessionByT[terminalID]
	if !exists {
		return nil, store.ErrNotFound
	}
	session, exists := s.sessionsByID[sessionID]
	if !exists || session.Status != domain.SessionStatusOpen {
		return nil, store.ErrNotFound
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	session.Status = domain.SessionStatusClosed
	session.ClosedAt = &closedAt

	delete(s.openSessionByT, terminalID)
	s.sessionsByID[sessionID] = session
	copySession := session
	return &copySession, nil
}

func (s *Store) CreateOffer(_ context.Context, offer domain.Offer) (*domain.Offer, error) {
	if strings.TrimSpace(offer.Name) == "" {
		return nil, store.ErrInvalidOrderState
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if offer.ID == "" {
		offer.ID = xid.New("ofr")
	}
	if offer.CreatedAt.IsZero() {
		offer.CreatedAt = time.Now().UTC()
	}
	offer.Active = true
	s.offersByID[offer.ID] = offer
	copyOffer := offer
	return &copyOffer, nil
}

func (s *Store) ListOffers(_ context.Context) ([]domain.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	offers := make([]domain.Offer, 0, len(s.offersByID))
	for _, offer := range s.offersByID {
		offers = append(offers, offer)
	}
	sortOffers(offers)
	return offers, nil
}

func (s *Store) UpdateOfferActive(_ context.Context, offerID string, active bool) (*domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, exists := s.offersByID[offerID]
	if !exists {
		return nil, store.ErrNotFound
	}
	offer.Active = active
	s.offersByID[offerID] = offer
	copyOffer := offer
	return &copyOffer, nil
}

func (s *Store) FindActiveOffers(_ context.Context) ([]domain.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	offers := make([]domain.Offer, 0, len(s.offersByID))
	for _, offer := range s.offersByID {
		if !offer.Active {
			continue
		}
		offers = append(offers, offer)
	}
	sortOffers(offers)
	return offers, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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

	saved := cloneOrder(&order)
	s.ordersByID[order.ID] = saved
	for _, it := range saved.Items {
		s.orderIDByItemID[it.ID] = saved.ID
	}
	return cloneOrder(saved), nil
}

func (s *Store) GetOrderByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, exists := s.ordersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *Store) GetOrderByItemID(_ context.Context, itemID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orderID, exists := s.orderIDByItemID[itemID]
	if !exists {
		return nil, store.ErrNotFound
	}
	order, exists := s.ordersByID[orderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *Store) UpdateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.ordersByID[order.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if current.Version != order.Version {
		return nil, store.ErrVersionConflict
	}

	for _, it := range current.Items {
		delete(s.orderIDByItemID, it.ID)
	}
	order.Version = current.Version + 1
	saved := cloneOrder(&order)
	s.ordersByID[order.ID] = saved
	for _, it := range saved.Items {
		s.orderIDByItemID[it.ID] = saved.ID
	}
	return cloneOrder(saved), nil
}

func (s *Store) ListSessionOrders(_ context.Context, sessionID string, statuses []string, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statusSet := make(map[string]struct{}, len(statuses))
	for _, st := range statuses {
		statusSet[st] = struct{}{}
	}

	result := make([]domain.Order, 0, 32)
	for _, order := range s.ordersByID {
		if sessionID != "" && order.SessionID != sessionID {
			continue
		}
		if len(statusSet) > 0 {
			if _, ok := statusSet[order.Status]; !ok {
				continue
			}
		}
		result = append(result, *cloneOrder(order))
	}
	slices.SortFunc(result, func(a, b domain.Order) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) NextOrderSequence(_ context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orderSeq[sessionID]++
	return s.orderSeq[sessionID], nil
}

func (s *Store) FinalizePayment(_ context.Context, order domain.Order, payments []domain.Payment, movements []domain.InventoryMovement) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.ordersByID[order.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if current.Status == domain.OrderStatusPaid {
		return nil, store.ErrConflict
	}
	if current.Status != domain.OrderStatusDraft && current.Status != domain.OrderStatusHold {
		return nil, store.ErrInvalidOrderState
	}
	if current.Version != order.Version {
		return nil, store.ErrVersionConflict
	}

	order.Version = current.Version + 1
	saved := cloneOrder(&order)
	saved.Payments = append([]domain.Payment{}, payments...)
	s.ordersByID[order.ID] = saved

	for _, m := range movements {
		s.applyMovementLocked(m)
	}
	return cloneOrder(saved), nil
}

func (s *Store) CreateReturnOrder(_ context.Context, returnOrder domain.Order, items []domain.ReturnItem, payments []domain.Payment, movements []domain.InventoryMovement) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, exists := s.ordersByID[returnOrder.ParentOrderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if original.Status != domain.OrderStatusPaid {
		return nil, store.ErrInvalidOrderState
	}

	// Recheck the per-line cap under the lock so that concurrent returns
	// cannot push the cumulative returned quantity past the sold quantity.
	returnedSoFar := s.returnedQtyLocked(returnOrder.ParentOrderID)
	for _, ri := range items {
		var originalQty decimal.Decimal
		found := false
		for _, it := range original.Items {
			if it.ID == ri.OriginalOrderItemID {
				originalQty = it.Quantity
				found = true
				break
			}
		}
		if !found {
			return nil, store.ErrNotFound
		}
		if returnedSoFar[ri.OriginalOrderItemID].Add(ri.ReturnedQty).GreaterThan(originalQty) {
			return nil, store.ErrExceedsReturnable
		}
	}

	if returnOrder.ID == "" {
		returnOrder.ID = xid.New("ord")
	}
	if returnOrder.CreatedAt.IsZero() {
		returnOrder.CreatedAt = time.Now().UTC()
	}
	returnOrder.Status = domain.OrderStatusReturned
	returnOrder.Version = 1

	saved := cloneOrder(&returnOrder)
	saved.Payments = append([]domain.Payment{}, payments...)
	s.ordersByID[saved.ID] = saved
	for _, it := range saved.Items {
		s.orderIDByItemID[it.ID] = saved.ID
	}
	for _, ri := range items {
		if ri.ID == "" {
			ri.ID = xid.New("rti")
		}
		ri.ReturnOrderID = saved.ID
		s.returnItemsByID[ri.ID] = ri
	}
	for _, m := range movements {
		s.applyMovementLocked(m)
	}
	return cloneOrder(saved), nil
}

func (s *Store) ReturnedQtyByOrder(_ context.Context, originalOrderID string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.returnedQtyLocked(originalOrderID), nil
}

func (s *Store) returnedQtyLocked(originalOrderID string) map[string]decimal.Decimal {
	result := make(map[string]decimal.Decimal)
	for _, ri := range s.returnItemsByID {
		ret, exists := s.ordersByID[ri.ReturnOrderID]
		if !exists || ret.ParentOrderID != originalOrderID {
			continue
		}
		result[ri.OriginalOrderItemID] = result[ri.OriginalOrderItemID].Add(ri.ReturnedQty)
	}
	return result
}

func (s *Store) ListReturnItems(_ context.Context, returnOrderID string) ([]domain.ReturnItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ReturnItem, 0, 8)
	for _, ri := range s.returnItemsByID {
		if ri.ReturnOrderID != returnOrderID {
			continue
		}
		result = append(result, ri)
	}
	slices.SortFunc(result, func(a, b domain.ReturnItem) int {
		return cmpString(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) RecordMovement(_ context.Context, movement domain.InventoryMovement, strict bool) (*domain.InventoryMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[movement.ProductID]; !exists {
		return nil, store.ErrNotFound
	}
	if strict && movement.QtyChange.IsNegative() {
		snap := s.snapshots[movement.ProductID]
		available := snap.StoreQty
		if movement.LocationType == domain.LocationWarehouse {
			available = snap.WarehouseQty
		}
		if available.Add(movement.QtyChange).IsNegative() {
			return nil, store.ErrInsufficientStock
		}
	}

	recorded := s.applyMovementLocked(movement)
	return &recorded, nil
}

func (s *Store) Transfer(_ context.Context, out domain.InventoryMovement, in domain.InventoryMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[out.ProductID]; !exists {
		return store.ErrNotFound
	}
	snap := s.snapshots[out.ProductID]
	available := snap.StoreQty
	if out.LocationType == domain.LocationWarehouse {
		available = snap.WarehouseQty
	}
	if available.Add(out.QtyChange).IsNegative() {
		return store.ErrInsufficientStock
	}

	s.applyMovementLocked(out)
	s.applyMovementLocked(in)
	return nil
}

func (s *Store) GetSnapshot(_ context.Context, productID string) (*domain.StockSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.products[productID]; !exists {
		return nil, store.ErrNotFound
	}
	snap, exists := s.snapshots[productID]
	if !exists {
		snap = domain.StockSnapshot{ProductID: productID, StoreQty: decimal.Zero, WarehouseQty: decimal.Zero}
	}
	copySnap := snap
	return &copySnap, nil
}

func (s *Store) ListMovements(_ context.Context, productID string, limit int) ([]domain.InventoryMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.movements[productID]
	result := make([]domain.InventoryMovement, len(history))
	copy(result, history)
	slices.SortFunc(result, func(a, b domain.InventoryMovement) int {
		if a.MovedAt.Equal(b.MovedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.MovedAt.After(b.MovedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ReconcileSnapshot(_ context.Context, productID string) (*domain.StockSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[productID]; !exists {
		return nil, store.ErrNotFound
	}

	storeQty := decimal.Zero
	warehouseQty := decimal.Zero
	for _, m := range s.movements[productID] {
		switch m.LocationType {
		case domain.LocationStore:
			storeQty = storeQty.Add(m.QtyChange)
		case domain.LocationWarehouse:
			warehouseQty = warehouseQty.Add(m.QtyChange)
		}
	}

	snap := domain.StockSnapshot{
		ProductID:     productID,
		StoreQty:      storeQty,
		WarehouseQty:  warehouseQty,
		LastUpdatedAt: time.Now().UTC(),
	}
	s.snapshots[productID] = snap
	copySnap := snap
	return &copySnap, nil
}

// applyMovementLocked appends the ledger entry and write-through updates the
// snapshot. Callers hold the write lock.
func (s *Store) applyMovementLocked(m domain.InventoryMovement) domain.InventoryMovement {
	if m.ID == "" {
		m.ID = xid.New("mov")
	}
	if m.MovedAt.IsZero() {
		m.MovedAt = time.Now().UTC()
	}
	s.movements[m.ProductID] = append(s.movements[m.ProductID], m)

	snap, exists := s.snapshots[m.ProductID]
	if !exists {
		snap = domain.StockSnapshot{ProductID: m.ProductID, StoreQty: decimal.Zero, WarehouseQty: decimal.Zero}
	}
	switch m.LocationType {
	case domain.LocationStore:
		snap.StoreQty = snap.StoreQty.Add(m.QtyChange)
	case domain.LocationWarehouse:
		snap.WarehouseQty = snap.WarehouseQty.Add(m.QtyChange)
	}
	snap.LastUpdatedAt = m.MovedAt
	s.snapshots[m.ProductID] = snap
	return m
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidOrderState
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidOrderState
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func sortOffers(offers []domain.Offer) {
	slices.SortFunc(offers, func(a, b domain.Offer) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneOrder(src *domain.Order) *domain.Order {
	if src == nil {
		return nil
	}
	dup := *src
	items := make([]domain.OrderItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	payments := make([]domain.Payment, len(src.Payments))
	copy(payments, src.Payments)
	dup.Payments = payments
	if src.PaidAt != nil {
		at := *src.PaidAt
		dup.PaidAt = &at
	}
	return &dup
}
