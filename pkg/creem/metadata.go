package creem

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CheckoutKind is written to checkout metadata and read back by fulfillment.
type CheckoutKind string

const (
	KindSingle       CheckoutKind = "single"
	KindCart         CheckoutKind = "cart"
	KindSubscription CheckoutKind = "subscription"
)

// Metadata keys shared by checkout creation and the webhook.
const (
	MetaType         = "type"
	MetaUserID       = "userId"
	MetaEmail        = "email"
	MetaProjectSlug  = "projectSlug"
	MetaProjectTitle = "projectTitle"
	MetaItems        = "items"
	MetaPlanName     = "planName"
	MetaBillingCycle = "billingCycle"
	MetaPrice        = "price"
	MetaTotal        = "total"
)

// MetadataItem is one cart line as serialized into checkout metadata.
type MetadataItem struct {
	ID    string `json:"id,omitempty"`
	Slug  string `json:"slug"`
	Title string `json:"title,omitempty"`
	Price string `json:"price"`
}

// UnmarshalJSON accepts id and price as JSON numbers as well as strings. Carts
// built by other clients post prices like {"price":10}.
func (m *MetadataItem) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID    json.RawMessage `json:"id"`
		Slug  string          `json:"slug"`
		Title string          `json:"title"`
		Price json.RawMessage `json:"price"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	id, err := scalarString(wire.ID)
	if err != nil {
		return fmt.Errorf("item id: %w", err)
	}
	price, err := scalarString(wire.Price)
	if err != nil {
		return fmt.Errorf("item price: %w", err)
	}
	*m = MetadataItem{ID: id, Slug: wire.Slug, Title: wire.Title, Price: price}
	return nil
}

// scalarString normalizes a JSON string, number or null into its text form.
func scalarString(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text), nil
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err != nil {
		return "", fmt.Errorf("want string or number, got %s", trimmed)
	}
	return number.String(), nil
}

// EncodeItems serializes items into the string form the processor stores verbatim.
func EncodeItems(items []MetadataItem) (string, error) {
	raw, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeItems accepts either the serialized string written by EncodeItems or a
// plain JSON array.
func DecodeItems(raw json.RawMessage) ([]MetadataItem, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, fmt.Errorf("decode items string: %w", err)
		}
		raw = json.RawMessage(encoded)
	}
	var items []MetadataItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	return items, nil
}
