package payment

import (
	"fmt"
	"strconv"
	"unicode/utf8"
)

// Provider metadata limits.
const (
	MaxMetadataKeys     = 50
	MaxMetadataKeyLen   = 40
	MaxMetadataValueLen = 500
)

const (
	KeyCart             = "cart"
	KeyCartParts        = "cart_parts"
	KeyDeliveryMethodID = "delivery_method_id"
	KeySaveInfo         = "save_info"
	KeyUsername         = "username"
	KeyInitiatedFrom    = "initiated_from"

	InitiatedFromCheckout = "checkout_page"
)

// Metadata is the payload carried on the intent across the payment round
// trip. The webhook has no session, so this is the only way it learns what
// was bought.
type Metadata struct {
	Cart             string
	DeliveryMethodID int64
	SaveInfo         bool
	Username         string
	InitiatedFrom    string
}

// Encode flattens m into provider metadata. Carts longer than one value are
// split into cart_1..cart_n with cart_parts=n. Keys that a previous encoding
// may have left behind are sent empty, which the provider treats as unset.
func (m Metadata) Encode() (map[string]string, error) {
	out := map[string]string{
		KeySaveInfo: strconv.FormatBool(m.SaveInfo),
		KeyUsername: m.Username,
	}
	if m.DeliveryMethodID > 0 {
		out[KeyDeliveryMethodID] = strconv.FormatInt(m.DeliveryMethodID, 10)
	}
	if m.InitiatedFrom != "" {
		out[KeyInitiatedFrom] = m.InitiatedFrom
	}

	if utf8.RuneCountInString(m.Cart) <= MaxMetadataValueLen {
		out[KeyCart] = m.Cart
		out[KeyCartParts] = ""
	} else {
		chunks := chunkRunes(m.Cart, MaxMetadataValueLen)
		if len(chunks)+len(out)+2 > MaxMetadataKeys {
			return nil, fmt.Errorf("%w: cart needs %d parts", ErrMetadataTooLarge, len(chunks))
		}
		out[KeyCart] = ""
		out[KeyCartParts] = strconv.Itoa(len(chunks))
		for i, c := range chunks {
			out[cartPartKey(i+1)] = c
		}
	}

	for k, v := range out {
		if len(k) > MaxMetadataKeyLen || utf8.RuneCountInString(v) > MaxMetadataValueLen {
			return nil, fmt.Errorf("%w: key %q", ErrMetadataTooLarge, k)
		}
	}
	return out, nil
}

// DecodeMetadata reassembles metadata written by Encode. Unknown keys are
// ignored and malformed numbers decode as zero.
func DecodeMetadata(md map[string]string) Metadata {
	m := Metadata{
		Username:      md[KeyUsername],
		InitiatedFrom: md[KeyInitiatedFrom],
	}
	m.SaveInfo, _ = strconv.ParseBool(md[KeySaveInfo])
	if id, err := strconv.ParseInt(md[KeyDeliveryMethodID], 10, 64); err == nil && id > 0 {
		m.DeliveryMethodID = id
	}

	if n, err := strconv.Atoi(md[KeyCartParts]); err == nil && n > 0 {
		var cart string
		for i := 1; i <= n; i++ {
			part, ok := md[cartPartKey(i)]
			if !ok {
				// A missing part means the snapshot is unusable.
				return m
			}
			cart += part
		}
		m.Cart = cart
		return m
	}
	m.Cart = md[KeyCart]
	return m
}

func cartPartKey(i int) string {
	return KeyCart + "_" + strconv.Itoa(i)
}

func chunkRunes(s string, size int) []string {
	var chunks []string
	for len(s) > 0 {
		n, i := 0, 0
		for i < len(s) && n < size {
			_, w := utf8.DecodeRuneInString(s[i:])
			i += w
			n++
		}
		chunks = append(chunks, s[:i])
		s = s[i:]
	}
	return chunks
}
