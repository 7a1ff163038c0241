package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"
)

// fakeProvider records calls and keeps intents in memory.
type fakeProvider struct {
	intents   map[string]*Intent
	nextID    int
	created   []int64
	modified  []IntentUpdate
	cancelled []string

	retrieveErr error
	modifyErr   error
	createErr   error
	cancelErr   error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{intents: map[string]*Intent{}}
}

func (f *fakeProvider) put(in *Intent) {
	if in.Metadata == nil {
		in.Metadata = map[string]string{}
	}
	if in.ClientSecret == "" {
		in.ClientSecret = in.ID + "_secret_test"
	}
	f.intents[in.ID] = in
}

func (f *fakeProvider) CreateIntent(ctx context.Context, amount int64, metadata map[string]string) (*Intent, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	in := &Intent{
		ID:       fmt.Sprintf("pi_new_%d", f.nextID),
		Amount:   amount,
		Currency: "gbp",
		Status:   StatusRequiresPaymentMethod,
		Metadata: map[string]string{},
	}
	for k, v := range metadata {
		if v != "" {
			in.Metadata[k] = v
		}
	}
	f.put(in)
	f.created = append(f.created, amount)
	return in, nil
}

func (f *fakeProvider) RetrieveIntent(ctx context.Context, id string) (*Intent, error) {
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	in, ok := f.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	cp := *in
	return &cp, nil
}

func (f *fakeProvider) ModifyIntent(ctx context.Context, id string, update IntentUpdate) (*Intent, error) {
	if f.modifyErr != nil {
		return nil, f.modifyErr
	}
	in, ok := f.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	if !in.Mutable() {
		return nil, errors.New("intent is not mutable")
	}
	f.modified = append(f.modified, update)
	if update.Amount > 0 {
		in.Amount = update.Amount
	}
	for k, v := range update.Metadata {
		if v == "" {
			delete(in.Metadata, k)
			continue
		}
		in.Metadata[k] = v
	}
	cp := *in
	return &cp, nil
}

func (f *fakeProvider) CancelIntent(ctx context.Context, id string) error {
	f.cancelled = append(f.cancelled, id)
	if f.cancelErr != nil {
		return f.cancelErr
	}
	if in, ok := f.intents[id]; ok {
		in.Status = StatusCanceled
	}
	return nil
}

func (f *fakeProvider) ConstructEvent(payload []byte, signature string) (Event, error) {
	return nil, errors.New("not implemented")
}

func newTestSynchronizer() (*Synchronizer, *fakeProvider) {
	p := newFakeProvider()
	return NewSynchronizer(p, zap.NewNop()), p
}

var testMeta = Metadata{Cart: `{"1":2}`, DeliveryMethodID: 3, Username: "amira"}

func TestEnsure_NoExistingCreates(t *testing.T) {
	s, p := newTestSynchronizer()

	in, err := s.Ensure(context.Background(), "", 12500, testMeta)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if in.Amount != 12500 {
		t.Errorf("amount: got %d, want 12500", in.Amount)
	}
	if len(p.created) != 1 {
		t.Fatalf("created: got %d, want 1", len(p.created))
	}
	if got := p.intents[in.ID].Metadata[KeyInitiatedFrom]; got != InitiatedFromCheckout {
		t.Errorf("initiated_from: got %q", got)
	}
	if got := p.intents[in.ID].Metadata[KeyCart]; got != testMeta.Cart {
		t.Errorf("cart metadata: got %q", got)
	}
}

func TestEnsure_SmallDriftReusesViaModify(t *testing.T) {
	s, p := newTestSynchronizer()
	p.put(&Intent{ID: "pi_old", Amount: 10500, Status: StatusRequiresPaymentMethod})

	in, err := s.Ensure(context.Background(), "pi_old", 10520, testMeta)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if in.ID != "pi_old" {
		t.Errorf("expected reuse of pi_old, got %s", in.ID)
	}
	if in.Amount != 10520 {
		t.Errorf("amount: got %d, want 10520", in.Amount)
	}
	if len(p.created) != 0 {
		t.Errorf("no intent should be created, got %d", len(p.created))
	}
	if len(p.modified) != 1 {
		t.Errorf("modify calls: got %d, want 1", len(p.modified))
	}
}

func TestEnsure_LargeDriftRecreates(t *testing.T) {
	s, p := newTestSynchronizer()
	p.put(&Intent{ID: "pi_old", Amount: 10500, Status: StatusRequiresPaymentMethod})

	in, err := s.Ensure(context.Background(), "pi_old", 12000, testMeta)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if in.ID == "pi_old" {
		t.Fatal("intent outside tolerance should be recreated")
	}
	if in.Amount != 12000 {
		t.Errorf("amount: got %d, want 12000", in.Amount)
	}
	if len(p.modified) != 0 {
		t.Errorf("old intent should not be modified")
	}
}

func TestEnsure_SameAmountNoCalls(t *testing.T) {
	s, p := newTestSynchronizer()
	p.put(&Intent{ID: "pi_old", Amount: 10500, Status: StatusRequiresPaymentMethod})

	in, err := s.Ensure(context.Background(), "pi_old", 10500, testMeta)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if in.ID != "pi_old" || len(p.modified) != 0 || len(p.created) != 0 {
		t.Errorf("expected untouched reuse, got id=%s modified=%d created=%d", in.ID, len(p.modified), len(p.created))
	}
}

func TestEnsure_NotAwaitingPaymentMethodRecreates(t *testing.T) {
	for _, status := range []string{StatusSucceeded, StatusCanceled, StatusProcessing, StatusRequiresAction} {
		t.Run(status, func(t *testing.T) {
			s, p := newTestSynchronizer()
			p.put(&Intent{ID: "pi_old", Amount: 10500, Status: status})

			in, err := s.Ensure(context.Background(), "pi_old", 10500, testMeta)
			if err != nil {
				t.Fatalf("ensure: %v", err)
			}
			if in.ID == "pi_old" {
				t.Errorf("status %s should not be reused", status)
			}
		})
	}
}

func TestEnsure_RetrieveErrorCreates(t *testing.T) {
	s, p := newTestSynchronizer()
	p.retrieveErr = errors.New("stripe down")

	in, err := s.Ensure(context.Background(), "pi_gone", 5000, testMeta)
	if err != nil {
		t.Fatalf("ensure should not fail: %v", err)
	}
	if in.Amount != 5000 || len(p.created) != 1 {
		t.Errorf("expected new intent for 5000, got %+v", in)
	}
}

func TestEnsure_ModifyErrorCreates(t *testing.T) {
	s, p := newTestSynchronizer()
	p.put(&Intent{ID: "pi_old", Amount: 10500, Status: StatusRequiresPaymentMethod})
	p.modifyErr = errors.New("rate limited")

	in, err := s.Ensure(context.Background(), "pi_old", 10520, testMeta)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if in.ID == "pi_old" || in.Amount != 10520 {
		t.Errorf("expected fresh intent for 10520, got %+v", in)
	}
}

func TestEnsure_CreateErrorSurfaces(t *testing.T) {
	s, p := newTestSynchronizer()
	p.createErr = errors.New("provider unavailable")

	if _, err := s.Ensure(context.Background(), "", 5000, testMeta); err == nil {
		t.Fatal("expected error when creation itself fails")
	}
}

func TestRefresh_ModifiesAmountAndMetadata(t *testing.T) {
	s, p := newTestSynchronizer()
	p.put(&Intent{ID: "pi_1", Amount: 10000, Status: StatusRequiresPaymentMethod})

	meta := testMeta
	meta.DeliveryMethodID = 7
	in, err := s.Refresh(context.Background(), "pi_1", 10995, meta)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if in.ID != "pi_1" || in.Amount != 10995 {
		t.Errorf("got %s/%d, want pi_1/10995", in.ID, in.Amount)
	}
	if got := p.intents["pi_1"].Metadata[KeyDeliveryMethodID]; got != "7" {
		t.Errorf("delivery_method_id: got %q, want 7", got)
	}
}

func TestRefresh_FailureCreates(t *testing.T) {
	s, p := newTestSynchronizer()
	p.put(&Intent{ID: "pi_1", Amount: 10000, Status: StatusSucceeded})

	in, err := s.Refresh(context.Background(), "pi_1", 10995, testMeta)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if in.ID == "pi_1" {
		t.Error("immutable intent should be replaced")
	}
	if in.Amount != 10995 {
		t.Errorf("amount: got %d, want 10995", in.Amount)
	}
}

func TestRefresh_AmountAlwaysMatches(t *testing.T) {
	s, p := newTestSynchronizer()
	p.put(&Intent{ID: "pi_1", Amount: 100, Status: StatusRequiresPaymentMethod})

	id := "pi_1"
	for _, amount := range []int64{100, 2500, 2499, 99999, 1} {
		in, err := s.Refresh(context.Background(), id, amount, testMeta)
		if err != nil {
			t.Fatalf("refresh %d: %v", amount, err)
		}
		if in.Amount != amount {
			t.Errorf("refresh %d: intent amount %d", amount, in.Amount)
		}
		id = in.ID
	}
}

func TestSyncForOrder(t *testing.T) {
	t.Run("updates mutable intent", func(t *testing.T) {
		s, p := newTestSynchronizer()
		p.put(&Intent{ID: "pi_1", Amount: 12000, Status: StatusRequiresPaymentMethod})

		in, err := s.SyncForOrder(context.Background(), "pi_1", 12500, testMeta)
		if err != nil {
			t.Fatalf("sync: %v", err)
		}
		if in.Amount != 12500 {
			t.Errorf("amount: got %d, want 12500", in.Amount)
		}
	})

	t.Run("leaves charged intent alone", func(t *testing.T) {
		s, p := newTestSynchronizer()
		p.put(&Intent{ID: "pi_1", Amount: 12000, Status: StatusSucceeded})

		in, err := s.SyncForOrder(context.Background(), "pi_1", 12500, testMeta)
		if err != nil {
			t.Fatalf("sync: %v", err)
		}
		if in.ID != "pi_1" || in.Amount != 12000 {
			t.Errorf("charged intent changed: %+v", in)
		}
		if len(p.modified) != 0 || len(p.created) != 0 {
			t.Error("no provider writes expected")
		}
	})

	t.Run("retrieve failure keeps the paid intent", func(t *testing.T) {
		s, p := newTestSynchronizer()
		p.put(&Intent{ID: "pi_1", Amount: 12500, Status: StatusSucceeded})
		p.retrieveErr = ErrProviderUnavailable

		in, err := s.SyncForOrder(context.Background(), "pi_1", 12500, testMeta)
		if !errors.Is(err, ErrProviderUnavailable) {
			t.Fatalf("got %v, want ErrProviderUnavailable", err)
		}
		if in != nil {
			t.Errorf("expected no intent, got %+v", in)
		}
		if len(p.created) != 0 {
			t.Errorf("created %d replacement intents, want 0", len(p.created))
		}
	})

	t.Run("modify failure creates nothing", func(t *testing.T) {
		s, p := newTestSynchronizer()
		p.put(&Intent{ID: "pi_1", Amount: 12000, Status: StatusRequiresPaymentMethod})
		p.modifyErr = errors.New("rate limited")

		if _, err := s.SyncForOrder(context.Background(), "pi_1", 12500, testMeta); err == nil {
			t.Fatal("expected modify error")
		}
		if len(p.created) != 0 {
			t.Errorf("created %d replacement intents, want 0", len(p.created))
		}
	})
}

func TestCacheCheckoutData(t *testing.T) {
	s, p := newTestSynchronizer()
	p.put(&Intent{ID: "pi_abc", Amount: 5000, Status: StatusRequiresPaymentMethod})

	meta := Metadata{Cart: `{"4":1}`, SaveInfo: true, Username: "noor"}
	if err := s.CacheCheckoutData(context.Background(), "pi_abc_secret_xyz", meta); err != nil {
		t.Fatalf("cache: %v", err)
	}
	md := p.intents["pi_abc"].Metadata
	if md[KeyCart] != `{"4":1}` || md[KeySaveInfo] != "true" || md[KeyUsername] != "noor" {
		t.Errorf("metadata not cached: %v", md)
	}
	if p.intents["pi_abc"].Amount != 5000 {
		t.Error("amount must not change")
	}

	if err := s.CacheCheckoutData(context.Background(), "garbage", meta); !errors.Is(err, ErrInvalidSecret) {
		t.Errorf("got %v, want ErrInvalidSecret", err)
	}

	p.modifyErr = errors.New("boom")
	if err := s.CacheCheckoutData(context.Background(), "pi_abc_secret_xyz", meta); err == nil {
		t.Error("expected modify failure to surface")
	}
}

func TestCancel_SwallowsErrors(t *testing.T) {
	s, p := newTestSynchronizer()
	p.cancelErr = errors.New("already succeeded")

	s.Cancel(context.Background(), "pi_1")
	s.Cancel(context.Background(), "")

	if len(p.cancelled) != 1 {
		t.Errorf("cancel calls: got %d, want 1", len(p.cancelled))
	}
}

func TestWithinTolerance(t *testing.T) {
	tests := []struct {
		current, desired int64
		want             bool
	}{
		{10500, 10520, true},
		{10500, 12000, false},
		{10000, 10500, true},
		{9500, 10000, true},
		{9499, 10000, false},
		{10501, 10000, false},
	}
	for _, tt := range tests {
		if got := WithinTolerance(tt.current, tt.desired); got != tt.want {
			t.Errorf("WithinTolerance(%d, %d) = %v, want %v", tt.current, tt.desired, got, tt.want)
		}
	}
}
