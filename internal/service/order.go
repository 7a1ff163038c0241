package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/henna-boutique/api/internal/cart"
	"github.com/henna-boutique/api/internal/database"
	"github.com/henna-boutique/api/internal/totals"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const maxOrderNumberRetries = 3

const (
	constraintOrderNumber = "orders_order_number_key"
	constraintStripePid   = "orders_stripe_pid_key"
)

// Errors returned by the order service.
var (
	ErrEmptyCart        = errors.New("cart is empty")
	ErrMissingPayment   = errors.New("payment reference is required")
	ErrInvalidContact   = errors.New("invalid contact details")
	ErrProductNotFound  = errors.New("product in cart not found")
	ErrDuplicatePayment = errors.New("an order already exists for this payment")
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DB is a connection pool that can both run queries and begin transactions.
// Satisfied by *pgxpool.Pool.
type DB interface {
	database.DBTX
	TxBeginner
}

// OrderStore defines the DB methods needed to create and look up orders.
// Satisfied by *database.Queries (and its WithTx variant).
type OrderStore interface {
	GetProduct(ctx context.Context, id int64) (database.Product, error)
	GetDeliveryMethod(ctx context.Context, id int64) (database.DeliveryMethod, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
	GetOrderByStripePid(ctx context.Context, stripePid string) (database.Order, error)
	FindOrderByFingerprint(ctx context.Context, arg database.FindOrderByFingerprintParams) (database.Order, error)
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx).
// This allows the service to create store instances from transactions.
type NewOrderStore func(db database.DBTX) OrderStore

// Contact is the customer's name, email, phone and delivery address.
type Contact struct {
	FullName       string
	Email          string
	PhoneNumber    string
	Country        string
	Postcode       string
	TownOrCity     string
	StreetAddress1 string
	StreetAddress2 string
	County         string
}

// Validate checks the fields the order form requires.
func (c Contact) Validate() error {
	var missing []string
	for _, f := range []struct {
		name, value string
	}{
		{"full_name", c.FullName},
		{"email", c.Email},
		{"phone_number", c.PhoneNumber},
		{"country", c.Country},
		{"town_or_city", c.TownOrCity},
		{"street_address1", c.StreetAddress1},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", ErrInvalidContact, strings.Join(missing, ", "))
	}
	if !strings.Contains(c.Email, "@") {
		return fmt.Errorf("%w: email", ErrInvalidContact)
	}
	return nil
}

// CreateOrderRequest is the validated input for the browser checkout path.
type CreateOrderRequest struct {
	Contact          Contact
	StripePID        string
	Cart             cart.Cart
	DeliveryMethodID int64
	Totals           totals.Totals
	Username         string
}

// CreateOrderResult is the full created order with items.
type CreateOrderResult struct {
	Order database.Order
	Items []database.OrderItem
	// ItemsTotal is the sum of line totals at current catalogue prices. The
	// stored order_total is the priced subtotal and may differ from it.
	ItemsTotal decimal.Decimal
}

// OrderService creates orders submitted from the checkout form.
type OrderService struct {
	db             DB
	newStore       NewOrderStore
	newOrderNumber func() string
}

// NewOrderService creates a new OrderService.
func NewOrderService(db DB, newStore NewOrderStore) *OrderService {
	return &OrderService{db: db, newStore: newStore, newOrderNumber: generateOrderNumber}
}

// CreateOrder persists the order and its line items atomically. It does not
// look for an existing order first; the unique stripe_pid constraint decides
// a race with the webhook, and the loser gets ErrDuplicatePayment together
// with the stored order.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if err := req.Contact.Validate(); err != nil {
		return nil, err
	}
	if req.StripePID == "" {
		return nil, ErrMissingPayment
	}
	lines, err := req.Cart.Lines()
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	snapshot, err := cart.Encode(req.Cart)
	if err != nil {
		return nil, err
	}

	params := orderParams(req.Contact, req.Totals)
	params.StripePid = req.StripePID
	params.OriginalCart = snapshot
	if req.DeliveryMethodID > 0 {
		params.DeliveryMethodID = pgtype.Int8{Int64: req.DeliveryMethodID, Valid: true}
	}
	if req.Username != "" {
		params.Username = pgtype.Text{String: req.Username, Valid: true}
	}

	result, err := createWithRetry(ctx, s.db, s.newStore, s.newOrderNumber, params, lines)
	if isUniqueViolation(err, constraintStripePid) {
		existing, lookupErr := s.newStore(s.db).GetOrderByStripePid(ctx, req.StripePID)
		if lookupErr != nil {
			return nil, fmt.Errorf("%w: lookup: %v", ErrDuplicatePayment, lookupErr)
		}
		return &CreateOrderResult{Order: existing}, ErrDuplicatePayment
	}
	return result, err
}

// createWithRetry retries up to maxOrderNumberRetries times on order_number
// unique constraint violations.
func createWithRetry(ctx context.Context, db TxBeginner, newStore NewOrderStore, newNumber func() string, params database.CreateOrderParams, lines []cart.Line) (*CreateOrderResult, error) {
	var lastErr error
	for attempt := 0; attempt < maxOrderNumberRetries; attempt++ {
		params.OrderNumber = newNumber()
		result, err := createOrderTx(ctx, db, newStore, params, lines)
		if err == nil {
			return result, nil
		}
		if isUniqueViolation(err, constraintOrderNumber) {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

// createOrderTx inserts the order and its items in a single transaction. The
// stored totals are taken from params as given. A cart line whose product no
// longer exists rolls the whole order back.
func createOrderTx(ctx context.Context, db TxBeginner, newStore NewOrderStore, params database.CreateOrderParams, lines []cart.Line) (*CreateOrderResult, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := newStore(tx)

	order, err := store.CreateOrder(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	items := make([]database.OrderItem, 0, len(lines))
	itemsTotal := decimal.Zero
	for i, line := range lines {
		product, err := store.GetProduct(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("item[%d] product %d: %w", i, line.ProductID, ErrProductNotFound)
			}
			return nil, fmt.Errorf("item[%d]: get product: %w", i, err)
		}

		unitPrice := numericToDecimal(product.Price)
		lineTotal := unitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		size := pgtype.Text{}
		if line.Size != "" {
			size = pgtype.Text{String: line.Size, Valid: true}
		}
		item, err := store.CreateOrderItem(ctx, database.CreateOrderItemParams{
			OrderID:       order.ID,
			ProductID:     product.ID,
			Quantity:      int32(line.Quantity),
			Size:          size,
			UnitPrice:     decimalToNumeric(unitPrice),
			LineitemTotal: decimalToNumeric(lineTotal),
		})
		if err != nil {
			return nil, fmt.Errorf("create order item: %w", err)
		}
		items = append(items, item)
		itemsTotal = itemsTotal.Add(lineTotal)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &CreateOrderResult{Order: order, Items: items, ItemsTotal: itemsTotal}, nil
}

// --- Helpers ---

func orderParams(c Contact, t totals.Totals) database.CreateOrderParams {
	return database.CreateOrderParams{
		FullName:          c.FullName,
		Email:             c.Email,
		PhoneNumber:       c.PhoneNumber,
		Country:           c.Country,
		Postcode:          c.Postcode,
		TownOrCity:        c.TownOrCity,
		StreetAddress1:    c.StreetAddress1,
		StreetAddress2:    c.StreetAddress2,
		County:            c.County,
		DeliveryCost:      decimalToNumeric(t.DeliveryCost),
		VatAmount:         decimalToNumeric(t.VATAmount),
		OrderTotal:        decimalToNumeric(t.Subtotal),
		GrandTotal:        decimalToNumeric(t.GrandTotal),
		GrandTotalWithVat: decimalToNumeric(t.GrandTotalWithVAT),
	}
}

// generateOrderNumber returns 32 upper-case hex characters.
func generateOrderNumber() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// isUniqueViolation checks for a unique constraint violation (pgconn error
// code 23505) on the named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
	}
	return false
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(2))
	return n
}
