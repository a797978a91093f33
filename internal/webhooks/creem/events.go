package creemwebhook

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/quickbuyer/quickbuyer-backend/pkg/creem"
)

// Processor event names. Several spellings map onto the same typed event.
const (
	TypeCheckoutCompleted     = "checkout.completed"
	TypeSubscriptionCreated   = "subscription.created"
	TypeSubscriptionActive    = "subscription.active"
	TypeSubscriptionCancelled = "subscription.cancelled"
	TypeSubscriptionCanceled  = "subscription.canceled"
	TypeSubscriptionExpired   = "subscription.expired"
	TypeSubscriptionRenewed   = "subscription.renewed"
	TypeSubscriptionPaid      = "subscription.paid"
	TypePaymentFailed         = "payment.failed"
)

var errMalformedEvent = errors.New("malformed webhook payload")

// Event is the closed set of webhook events the fulfillment service understands.
// Every implementation lives in this file.
type Event interface {
	EventID() string
	EventType() string
	sealed()
}

type eventBase struct {
	id        string
	eventType string
}

func (b eventBase) EventID() string   { return b.id }
func (b eventBase) EventType() string { return b.eventType }
func (eventBase) sealed()             {}

// Metadata is what checkout creation attached to the session, read back.
type Metadata struct {
	Type         creem.CheckoutKind
	UserID       string
	Email        string
	ProjectSlug  string
	ProjectTitle string
	PlanName     string
	BillingCycle string
	Price        string
	Items        []creem.MetadataItem
}

type CheckoutCompleted struct {
	eventBase
	CheckoutID     string
	OrderID        string
	CustomerID     string
	CustomerEmail  string
	SubscriptionID string
	ProductName    string
	Currency       string
	Metadata       Metadata
}

type SubscriptionCreated struct {
	eventBase
	SubscriptionID string
	CustomerID     string
	CustomerEmail  string
	ProductName    string
	Metadata       Metadata
}

type SubscriptionCancelled struct {
	eventBase
	SubscriptionID string
}

type SubscriptionRenewed struct {
	eventBase
	SubscriptionID string
	CustomerID     string
	CustomerEmail  string
	ProductName    string
	Metadata       Metadata
}

type PaymentFailed struct {
	eventBase
	SubscriptionID string
}

// Unknown is acknowledged and audited without side effects.
type Unknown struct {
	eventBase
}

type envelope struct {
	ID        string          `json:"id"`
	EventType string          `json:"eventType"`
	Type      string          `json:"type"`
	Object    json.RawMessage `json:"object"`
	Data      json.RawMessage `json:"data"`
}

type eventObject struct {
	ID             string                     `json:"id"`
	Object         string                     `json:"object"`
	Customer       json.RawMessage            `json:"customer"`
	CustomerEmail  string                     `json:"customer_email"`
	Subscription   json.RawMessage            `json:"subscription"`
	SubscriptionID string                     `json:"subscription_id"`
	Product        json.RawMessage            `json:"product"`
	Order          *orderObject               `json:"order"`
	Metadata       map[string]json.RawMessage `json:"metadata"`
}

type orderObject struct {
	ID       string `json:"id"`
	Currency string `json:"currency"`
}

type refObject struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// ParseEvent decodes a verified body into its typed event.
func ParseEvent(body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedEvent, err)
	}
	eventType := strings.TrimSpace(env.EventType)
	if eventType == "" {
		eventType = strings.TrimSpace(env.Type)
	}
	if eventType == "" {
		return nil, fmt.Errorf("%w: event type missing", errMalformedEvent)
	}

	rawObject := env.Object
	if isEmptyJSON(rawObject) {
		rawObject = env.Data
	}
	var obj eventObject
	if !isEmptyJSON(rawObject) {
		if err := json.Unmarshal(rawObject, &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformedEvent, err)
		}
	}

	id := strings.TrimSpace(env.ID)
	if id == "" {
		id = strings.TrimSpace(obj.ID)
	}
	if id == "" {
		sum := sha256.Sum256(body)
		id = hex.EncodeToString(sum[:])
	}
	base := eventBase{id: id, eventType: eventType}

	customer := decodeRef(obj.Customer)
	email := strings.TrimSpace(customer.Email)
	if email == "" {
		email = strings.TrimSpace(obj.CustomerEmail)
	}
	product := decodeRef(obj.Product)

	switch strings.ToLower(eventType) {
	case TypeCheckoutCompleted:
		metadata, err := decodeMetadata(obj.Metadata)
		if err != nil {
			return nil, err
		}
		ev := CheckoutCompleted{
			eventBase:      base,
			CheckoutID:     obj.ID,
			CustomerID:     customer.ID,
			CustomerEmail:  email,
			SubscriptionID: subscriptionID(obj),
			ProductName:    product.Name,
			Metadata:       metadata,
		}
		if obj.Order != nil {
			ev.OrderID = obj.Order.ID
			ev.Currency = strings.ToUpper(strings.TrimSpace(obj.Order.Currency))
		}
		if ev.CheckoutID == "" {
			ev.CheckoutID = id
		}
		return ev, nil
	case TypeSubscriptionCreated, TypeSubscriptionActive:
		metadata, err := decodeMetadata(obj.Metadata)
		if err != nil {
			return nil, err
		}
		return SubscriptionCreated{
			eventBase:      base,
			SubscriptionID: subscriptionID(obj),
			CustomerID:     customer.ID,
			CustomerEmail:  email,
			ProductName:    product.Name,
			Metadata:       metadata,
		}, nil
	case TypeSubscriptionCancelled, TypeSubscriptionCanceled, TypeSubscriptionExpired:
		return SubscriptionCancelled{eventBase: base, SubscriptionID: subscriptionID(obj)}, nil
	case TypeSubscriptionRenewed, TypeSubscriptionPaid:
		metadata, err := decodeMetadata(obj.Metadata)
		if err != nil {
			return nil, err
		}
		return SubscriptionRenewed{
			eventBase:      base,
			SubscriptionID: subscriptionID(obj),
			CustomerID:     customer.ID,
			CustomerEmail:  email,
			ProductName:    product.Name,
			Metadata:       metadata,
		}, nil
	case TypePaymentFailed:
		return PaymentFailed{eventBase: base, SubscriptionID: subscriptionID(obj)}, nil
	default:
		return Unknown{eventBase: base}, nil
	}
}

// subscriptionID prefers an embedded subscription reference and falls back to the
// object's own id when the object is the subscription.
func subscriptionID(obj eventObject) string {
	if ref := decodeRef(obj.Subscription); ref.ID != "" {
		return ref.ID
	}
	if obj.SubscriptionID != "" {
		return obj.SubscriptionID
	}
	if obj.Object == "subscription" || strings.HasPrefix(obj.ID, "sub_") {
		return obj.ID
	}
	return ""
}

// decodeRef accepts either a bare id string or an expanded object.
func decodeRef(raw json.RawMessage) refObject {
	if isEmptyJSON(raw) {
		return refObject{}
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return refObject{ID: id}
	}
	var ref refObject
	_ = json.Unmarshal(raw, &ref)
	return ref
}

func decodeMetadata(raw map[string]json.RawMessage) (Metadata, error) {
	meta := Metadata{
		Type:         creem.CheckoutKind(strings.ToLower(metaString(raw[creem.MetaType]))),
		UserID:       metaString(raw[creem.MetaUserID]),
		Email:        metaString(raw[creem.MetaEmail]),
		ProjectSlug:  metaString(raw[creem.MetaProjectSlug]),
		ProjectTitle: metaString(raw[creem.MetaProjectTitle]),
		PlanName:     metaString(raw[creem.MetaPlanName]),
		BillingCycle: metaString(raw[creem.MetaBillingCycle]),
		Price:        metaString(raw[creem.MetaPrice]),
	}
	items, err := creem.DecodeItems(raw[creem.MetaItems])
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", errMalformedEvent, err)
	}
	meta.Items = items
	return meta, nil
}

// metaString reads a metadata value that may arrive as a string or a number.
func metaString(raw json.RawMessage) string {
	if isEmptyJSON(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
