package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/henna-boutique/api/internal/database"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// memDB is an in-memory stand-in for Postgres with just enough transaction
// semantics for the order paths: writes inside a tx are invisible to other
// readers until commit, rollback discards them, and unique constraints on
// order_number and stripe_pid are checked at insert time.
type memDB struct {
	mu         sync.Mutex
	products   map[int64]database.Product
	deliveries map[int64]database.DeliveryMethod
	orders     []database.Order
	items      []database.OrderItem
	pending    map[*memTx]*memWrites

	findCalls int
	// onFind runs (unlocked) before each fingerprint lookup with the call number.
	onFind func(n int)
	findErr error
}

type memWrites struct {
	orders []database.Order
	items  []database.OrderItem
}

func newMemDB() *memDB {
	return &memDB{
		products:   map[int64]database.Product{},
		deliveries: map[int64]database.DeliveryMethod{},
		pending:    map[*memTx]*memWrites{},
	}
}

func (m *memDB) addProduct(id int64, name, price string) {
	m.products[id] = database.Product{ID: id, Name: name, Price: makeNumeric(price), IsAvailable: true}
}

func (m *memDB) addDelivery(id int64, name, cost string) {
	m.deliveries[id] = database.DeliveryMethod{ID: id, Name: name, Cost: makeNumeric(cost), Active: true}
}

func (m *memDB) committedOrders() []database.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]database.Order(nil), m.orders...)
}

func (m *memDB) committedItems() []database.OrderItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]database.OrderItem(nil), m.items...)
}

func (m *memDB) Begin(ctx context.Context) (pgx.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{db: m}
	m.pending[tx] = &memWrites{}
	return tx, nil
}

func (m *memDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (m *memDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	panic("not implemented")
}
func (m *memDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	panic("not implemented")
}

func (m *memDB) newStore(db database.DBTX) OrderStore {
	switch v := db.(type) {
	case *memTx:
		return &memStore{db: v.db, tx: v}
	case *memDB:
		return &memStore{db: v}
	}
	panic("unexpected DBTX")
}

// memTx implements pgx.Tx; only Commit and Rollback do anything.
type memTx struct {
	db *memDB
}

func (t *memTx) Commit(ctx context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if w, ok := t.db.pending[t]; ok {
		t.db.orders = append(t.db.orders, w.orders...)
		t.db.items = append(t.db.items, w.items...)
		delete(t.db.pending, t)
	}
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	delete(t.db.pending, t)
	return nil
}

func (t *memTx) Begin(ctx context.Context) (pgx.Tx, error) { panic("not implemented") }
func (t *memTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}
func (t *memTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}
func (t *memTx) LargeObjects() pgx.LargeObjects { panic("not implemented") }
func (t *memTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}
func (t *memTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (t *memTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not implemented")
}
func (t *memTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("not implemented")
}
func (t *memTx) Conn() *pgx.Conn { panic("not implemented") }

// memStore implements OrderStore over memDB, optionally inside a tx.
type memStore struct {
	db *memDB
	tx *memTx
}

func (s *memStore) GetProduct(ctx context.Context, id int64) (database.Product, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.products[id]
	if !ok {
		return database.Product{}, pgx.ErrNoRows
	}
	return p, nil
}

func (s *memStore) GetDeliveryMethod(ctx context.Context, id int64) (database.DeliveryMethod, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	d, ok := s.db.deliveries[id]
	if !ok {
		return database.DeliveryMethod{}, pgx.ErrNoRows
	}
	return d, nil
}

func (s *memStore) CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	all := append([]database.Order(nil), s.db.orders...)
	for _, w := range s.db.pending {
		all = append(all, w.orders...)
	}
	for _, o := range all {
		if o.OrderNumber == arg.OrderNumber {
			return database.Order{}, &pgconn.PgError{Code: "23505", ConstraintName: constraintOrderNumber}
		}
		if o.StripePid == arg.StripePid {
			return database.Order{}, &pgconn.PgError{Code: "23505", ConstraintName: constraintStripePid}
		}
	}

	o := database.Order{
		ID:                uuid.New(),
		OrderNumber:       arg.OrderNumber,
		FullName:          arg.FullName,
		Email:             arg.Email,
		PhoneNumber:       arg.PhoneNumber,
		Country:           arg.Country,
		Postcode:          arg.Postcode,
		TownOrCity:        arg.TownOrCity,
		StreetAddress1:    arg.StreetAddress1,
		StreetAddress2:    arg.StreetAddress2,
		County:            arg.County,
		DeliveryMethodID:  arg.DeliveryMethodID,
		OriginalCart:      arg.OriginalCart,
		StripePid:         arg.StripePid,
		DeliveryCost:      arg.DeliveryCost,
		VatAmount:         arg.VatAmount,
		OrderTotal:        arg.OrderTotal,
		GrandTotal:        arg.GrandTotal,
		GrandTotalWithVat: arg.GrandTotalWithVat,
		Username:          arg.Username,
		CreatedAt:         time.Now(),
	}
	s.writes().orders = append(s.writes().orders, o)
	return o, nil
}

func (s *memStore) CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	item := database.OrderItem{
		ID:            uuid.New(),
		OrderID:       arg.OrderID,
		ProductID:     arg.ProductID,
		Quantity:      arg.Quantity,
		Size:          arg.Size,
		UnitPrice:     arg.UnitPrice,
		LineitemTotal: arg.LineitemTotal,
	}
	s.writes().items = append(s.writes().items, item)
	return item, nil
}

func (s *memStore) GetOrderByStripePid(ctx context.Context, stripePid string) (database.Order, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, o := range s.db.orders {
		if o.StripePid == stripePid {
			return o, nil
		}
	}
	return database.Order{}, pgx.ErrNoRows
}

func (s *memStore) FindOrderByFingerprint(ctx context.Context, arg database.FindOrderByFingerprintParams) (database.Order, error) {
	s.db.mu.Lock()
	s.db.findCalls++
	n, hook, findErr := s.db.findCalls, s.db.onFind, s.db.findErr
	s.db.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if findErr != nil {
		return database.Order{}, findErr
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, o := range s.db.orders {
		if strings.EqualFold(o.FullName, arg.FullName) &&
			strings.EqualFold(o.Email, arg.Email) &&
			strings.EqualFold(o.PhoneNumber, arg.PhoneNumber) &&
			strings.EqualFold(o.Country, arg.Country) &&
			strings.EqualFold(o.Postcode, arg.Postcode) &&
			strings.EqualFold(o.TownOrCity, arg.TownOrCity) &&
			strings.EqualFold(o.StreetAddress1, arg.StreetAddress1) &&
			strings.EqualFold(o.StreetAddress2, arg.StreetAddress2) &&
			strings.EqualFold(o.County, arg.County) &&
			numericToDecimal(o.GrandTotalWithVat).Equal(numericToDecimal(arg.GrandTotalWithVat)) &&
			o.OriginalCart == arg.OriginalCart &&
			o.StripePid == arg.StripePid {
			return o, nil
		}
	}
	return database.Order{}, pgx.ErrNoRows
}

// writes returns the tx buffer this store writes to. Caller holds db.mu.
func (s *memStore) writes() *memWrites {
	if s.tx == nil {
		panic("write outside a transaction")
	}
	w, ok := s.db.pending[s.tx]
	if !ok {
		w = &memWrites{}
		s.db.pending[s.tx] = w
	}
	return w
}

// fakeTimer satisfies backoff.Timer and fires immediately, recording each delay.
type fakeTimer struct {
	mu     sync.Mutex
	delays []time.Duration
	c      chan time.Time
}

func (f *fakeTimer) Start(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays = append(f.delays, d)
	f.c = make(chan time.Time, 1)
	f.c <- time.Time{}
}

func (f *fakeTimer) Stop() {}

func (f *fakeTimer) C() <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.c
}

func (f *fakeTimer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delays)
}
