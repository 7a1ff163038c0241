// Package cart holds the session-scoped shopping cart and its wire format.
//
// The cart is serialized once per request with Encode and that exact string is
// both stored on the order (original_cart) and sent to the payment provider as
// metadata, so the webhook can match an order created by the browser path.
package cart

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// MaxQuantity caps the units of a single product in a cart.
const MaxQuantity = 9999

var (
	ErrInvalidProductID = errors.New("invalid product id in cart")
	ErrInvalidQuantity  = errors.New("quantity must be between 1 and 9999")
	ErrInvalidEntry     = errors.New("invalid cart entry")
)

// Entry is one cart line. It encodes as a bare quantity when no size is set
// and as {"quantity": n, "size": "..."} otherwise; both shapes decode.
type Entry struct {
	Quantity int
	Size     string
}

type structuredEntry struct {
	Quantity *int   `json:"quantity,omitempty"`
	Size     string `json:"size,omitempty"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Size == "" {
		return []byte(strconv.Itoa(e.Quantity)), nil
	}
	q := e.Quantity
	return json.Marshal(structuredEntry{Quantity: &q, Size: e.Size})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '{' {
		var q int
		if err := json.Unmarshal(data, &q); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidEntry, data)
		}
		if q > MaxQuantity {
			return fmt.Errorf("%w: %d", ErrInvalidQuantity, q)
		}
		*e = Entry{Quantity: q}
		return nil
	}

	var s structuredEntry
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	q := 1
	if s.Quantity != nil {
		q = *s.Quantity
	}
	if q > MaxQuantity {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, q)
	}
	*e = Entry{Quantity: q, Size: s.Size}
	return nil
}

// Cart maps product IDs (decimal strings) to entries.
type Cart map[string]Entry

// Line is a decoded cart entry with a parsed product ID.
type Line struct {
	ProductID int64
	Quantity  int
	Size      string
}

// Add increments the quantity of a product, creating the entry if needed.
// The resulting quantity may not exceed MaxQuantity.
func (c Cart) Add(productID int64, quantity int, size string) error {
	if quantity <= 0 || quantity > MaxQuantity {
		return ErrInvalidQuantity
	}
	key := strconv.FormatInt(productID, 10)
	e := c[key]
	if e.Quantity > MaxQuantity-quantity {
		return ErrInvalidQuantity
	}
	e.Quantity += quantity
	if size != "" {
		e.Size = size
	}
	c[key] = e
	return nil
}

// Set replaces the quantity of a product; zero removes it.
func (c Cart) Set(productID int64, quantity int) error {
	if quantity < 0 || quantity > MaxQuantity {
		return ErrInvalidQuantity
	}
	key := strconv.FormatInt(productID, 10)
	if quantity == 0 {
		delete(c, key)
		return nil
	}
	e := c[key]
	e.Quantity = quantity
	c[key] = e
	return nil
}

// Remove deletes a product from the cart.
func (c Cart) Remove(productID int64) {
	delete(c, strconv.FormatInt(productID, 10))
}

// Count is the total number of units.
func (c Cart) Count() int {
	n := 0
	for _, e := range c {
		n += e.Quantity
	}
	return n
}

// Lines returns the entries ordered by product ID.
func (c Cart) Lines() ([]Line, error) {
	lines := make([]Line, 0, len(c))
	for key, e := range c {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidProductID, key)
		}
		if e.Quantity <= 0 || e.Quantity > MaxQuantity {
			return nil, fmt.Errorf("product %d: %w", id, ErrInvalidQuantity)
		}
		lines = append(lines, Line{ProductID: id, Quantity: e.Quantity, Size: e.Size})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, nil
}

// Encode serializes the cart deterministically (map keys are sorted by
// encoding/json).
func Encode(c Cart) (string, error) {
	if c == nil {
		c = Cart{}
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode cart: %w", err)
	}
	return string(b), nil
}

// Decode parses a serialized cart snapshot.
func Decode(s string) (Cart, error) {
	c := Cart{}
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	return c, nil
}
