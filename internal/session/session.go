// Package session stores per-visitor checkout state in Redis.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/henna-boutique/api/internal/cart"
	"github.com/redis/go-redis/v9"
)

// Data is everything the checkout flow keeps between requests.
// It is created on the first cart add and cleared once an order completes.
type Data struct {
	Cart             cart.Cart `json:"cart"`
	PaymentIntentID  string    `json:"payment_intent_id,omitempty"`
	DeliveryMethodID int64     `json:"delivery_method_id,omitempty"`
	SaveInfo         bool      `json:"save_info,omitempty"`
}

// ClearCheckout drops the cart and payment intent after a completed order.
func (d *Data) ClearCheckout() {
	d.Cart = cart.Cart{}
	d.PaymentIntentID = ""
	d.DeliveryMethodID = 0
}

// Store persists session data keyed by session ID.
type Store interface {
	Load(ctx context.Context, id string) (*Data, error)
	Save(ctx context.Context, id string, data *Data) error
	Delete(ctx context.Context, id string) error
}

// RedisStore keeps each session as a JSON value under session:<id>.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore whose entries expire after ttl of inactivity.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Load returns the session, or an empty one when none is stored.
func (s *RedisStore) Load(ctx context.Context, id string) (*Data, error) {
	raw, err := s.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return &Data{Cart: cart.Cart{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	if d.Cart == nil {
		d.Cart = cart.Cart{}
	}
	return &d, nil
}

// Save writes the session and refreshes its TTL.
func (s *RedisStore) Save(ctx context.Context, id string, data *Data) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, key(id), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

func key(id string) string {
	return "session:" + id
}
