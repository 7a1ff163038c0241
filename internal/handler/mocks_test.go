package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/henna-boutique/api/internal/cart"
	"github.com/henna-boutique/api/internal/database"
	"github.com/henna-boutique/api/internal/middleware"
	"github.com/henna-boutique/api/internal/notify"
	"github.com/henna-boutique/api/internal/payment"
	"github.com/henna-boutique/api/internal/service"
	"github.com/henna-boutique/api/internal/session"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const testSessionID = "3f1c7b0e-8a52-4d6e-9c1a-2b7f4e5d6a90"

// --- Mock session store ---

type memSessions struct {
	mu   sync.Mutex
	data map[string]session.Data
}

func newMemSessions() *memSessions {
	return &memSessions{data: make(map[string]session.Data)}
}

func (m *memSessions) Load(_ context.Context, id string) (*session.Data, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[id]
	if !ok {
		return &session.Data{Cart: cart.Cart{}}, nil
	}
	// Copy the cart so handlers cannot mutate stored state without Save.
	c := cart.Cart{}
	for k, v := range d.Cart {
		c[k] = v
	}
	d.Cart = c
	return &d, nil
}

func (m *memSessions) Save(_ context.Context, id string, d *session.Data) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = *d
	return nil
}

func (m *memSessions) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

func (m *memSessions) get(id string) session.Data {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[id]
}

// --- Mock store ---

type mockStore struct {
	products   map[int64]database.Product
	deliveries map[int64]database.DeliveryMethod
	orders     map[string]database.Order
	items      map[uuid.UUID][]database.OrderItem
}

func newMockStore() *mockStore {
	return &mockStore{
		products:   make(map[int64]database.Product),
		deliveries: make(map[int64]database.DeliveryMethod),
		orders:     make(map[string]database.Order),
		items:      make(map[uuid.UUID][]database.OrderItem),
	}
}

func (m *mockStore) ListProductsByIDs(_ context.Context, ids []int64) ([]database.Product, error) {
	var result []database.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			result = append(result, p)
		}
	}
	return result, nil
}

func (m *mockStore) GetDeliveryMethod(_ context.Context, id int64) (database.DeliveryMethod, error) {
	d, ok := m.deliveries[id]
	if !ok {
		return database.DeliveryMethod{}, pgx.ErrNoRows
	}
	return d, nil
}

func (m *mockStore) ListActiveDeliveryMethods(_ context.Context) ([]database.DeliveryMethod, error) {
	var result []database.DeliveryMethod
	for _, d := range m.deliveries {
		if d.Active {
			result = append(result, d)
		}
	}
	return result, nil
}

func (m *mockStore) GetOrderByNumber(_ context.Context, number string) (database.Order, error) {
	o, ok := m.orders[number]
	if !ok {
		return database.Order{}, pgx.ErrNoRows
	}
	return o, nil
}

func (m *mockStore) ListOrderItemsByOrder(_ context.Context, orderID uuid.UUID) ([]database.OrderItem, error) {
	return m.items[orderID], nil
}

func (m *mockStore) addProduct(id int64, name, price string) {
	m.products[id] = database.Product{ID: id, Name: name, Price: testNumeric(price), IsAvailable: true}
}

func (m *mockStore) addDelivery(id int64, name, cost string, active bool) {
	m.deliveries[id] = database.DeliveryMethod{
		ID:                    id,
		Name:                  name,
		Cost:                  testNumeric(cost),
		Active:                active,
		CompanyName:           "Royal Mail",
		EstimatedDeliveryTime: "3-5 working days",
	}
}

// --- Mock payment intents ---

type mockIntents struct {
	ensureFn       func(ctx context.Context, existingID string, amount int64, meta payment.Metadata) (*payment.Intent, error)
	refreshFn      func(ctx context.Context, existingID string, amount int64, meta payment.Metadata) (*payment.Intent, error)
	syncForOrderFn func(ctx context.Context, id string, amount int64, meta payment.Metadata) (*payment.Intent, error)
	cacheFn        func(ctx context.Context, clientSecret string, meta payment.Metadata) error

	cancelled []string
}

func (m *mockIntents) Ensure(ctx context.Context, existingID string, amount int64, meta payment.Metadata) (*payment.Intent, error) {
	return m.ensureFn(ctx, existingID, amount, meta)
}

func (m *mockIntents) Refresh(ctx context.Context, existingID string, amount int64, meta payment.Metadata) (*payment.Intent, error) {
	return m.refreshFn(ctx, existingID, amount, meta)
}

func (m *mockIntents) SyncForOrder(ctx context.Context, id string, amount int64, meta payment.Metadata) (*payment.Intent, error) {
	if m.syncForOrderFn == nil {
		return &payment.Intent{ID: id, Amount: amount}, nil
	}
	return m.syncForOrderFn(ctx, id, amount, meta)
}

func (m *mockIntents) CacheCheckoutData(ctx context.Context, clientSecret string, meta payment.Metadata) error {
	return m.cacheFn(ctx, clientSecret, meta)
}

func (m *mockIntents) Cancel(_ context.Context, id string) {
	m.cancelled = append(m.cancelled, id)
}

func intentFor(id string, amount int64) *payment.Intent {
	return &payment.Intent{ID: id, ClientSecret: id + "_secret_abc", Amount: amount, Status: "requires_payment_method"}
}

// --- Mock order service ---

type mockOrders struct {
	createOrderFn func(ctx context.Context, req service.CreateOrderRequest) (*service.CreateOrderResult, error)
}

func (m *mockOrders) CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*service.CreateOrderResult, error) {
	return m.createOrderFn(ctx, req)
}

// --- Recording notifier ---

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.OrderMessage
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg notify.OrderMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return n.err
}

func (n *recordingNotifier) sent() []notify.OrderMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.OrderMessage(nil), n.msgs...)
}

// --- Helpers ---

func testNumeric(s string) pgtype.Numeric {
	d := decimal.RequireFromString(s)
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

// withSession mounts routes behind a fixed session id.
func withSession(mount func(r chi.Router)) *chi.Mux {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(middleware.WithSessionID(req.Context(), testSessionID)))
		})
	})
	mount(r)
	return r
}

func seedCart(t *testing.T, s *memSessions, entries map[int64]int) {
	t.Helper()
	c := cart.Cart{}
	for pid, qty := range entries {
		if err := c.Add(pid, qty, ""); err != nil {
			t.Fatalf("seed cart: %v", err)
		}
	}
	d := s.get(testSessionID)
	d.Cart = c
	if err := s.Save(context.Background(), testSessionID, &d); err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func sampleOrder(number string) database.Order {
	return database.Order{
		ID:                uuid.New(),
		OrderNumber:       number,
		FullName:          "Amira Khan",
		Email:             "amira@example.com",
		PhoneNumber:       "07700900123",
		Country:           "GB",
		Postcode:          "E1 6AN",
		TownOrCity:        "London",
		StreetAddress1:    "1 Brick Lane",
		StripePid:         "pi_123",
		DeliveryCost:      testNumeric("3.99"),
		VatAmount:         testNumeric("4.00"),
		OrderTotal:        testNumeric("20.00"),
		GrandTotal:        testNumeric("23.99"),
		GrandTotalWithVat: testNumeric("27.99"),
		CreatedAt:         time.Now(),
	}
}
