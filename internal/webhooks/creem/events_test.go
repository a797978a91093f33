package creemwebhook

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickbuyer/quickbuyer-backend/pkg/creem"
)

func TestParseCheckoutCompletedCart(t *testing.T) {
	body := []byte(`{
		"id": "evt_1",
		"eventType": "checkout.completed",
		"object": {
			"id": "ch_1",
			"customer": {"id": "cust_1", "email": "Buyer@Example.com"},
			"order": {"id": "ord_1", "currency": "usd"},
			"metadata": {
				"type": "cart",
				"userId": "",
				"total": 15.5,
				"items": "[{\"id\":\"1\",\"slug\":\"a\",\"title\":\"A\",\"price\":\"10.00\"}]"
			}
		}
	}`)

	event, err := ParseEvent(body)
	require.NoError(t, err)
	ev, ok := event.(CheckoutCompleted)
	require.True(t, ok)
	assert.Equal(t, "evt_1", ev.EventID())
	assert.Equal(t, "ch_1", ev.CheckoutID)
	assert.Equal(t, "ord_1", ev.OrderID)
	assert.Equal(t, "USD", ev.Currency)
	assert.Equal(t, "cust_1", ev.CustomerID)
	assert.Equal(t, "Buyer@Example.com", ev.CustomerEmail)
	assert.Equal(t, creem.KindCart, ev.Metadata.Type)
	require.Len(t, ev.Metadata.Items, 1)
	assert.Equal(t, "a", ev.Metadata.Items[0].Slug)
}

func TestParseEventTypeAliases(t *testing.T) {
	cases := map[string]any{
		`{"id":"e","eventType":"subscription.active","object":{"id":"sub_1"}}`:   SubscriptionCreated{},
		`{"id":"e","eventType":"subscription.canceled","object":{"id":"sub_1"}}`: SubscriptionCancelled{},
		`{"id":"e","eventType":"subscription.expired","object":{"id":"sub_1"}}`:  SubscriptionCancelled{},
		`{"id":"e","eventType":"subscription.paid","object":{"id":"sub_1"}}`:     SubscriptionRenewed{},
		`{"id":"e","type":"payment.failed","data":{"subscription":"sub_1"}}`:     PaymentFailed{},
		`{"id":"e","eventType":"refund.created","object":{}}`:                    Unknown{},
	}
	for body, want := range cases {
		event, err := ParseEvent([]byte(body))
		require.NoError(t, err, body)
		assert.IsType(t, want, event, body)
	}
}

func TestParseSubscriptionIDSources(t *testing.T) {
	event, err := ParseEvent([]byte(`{"id":"e","eventType":"subscription.canceled","object":{"id":"sub_9","object":"subscription"}}`))
	require.NoError(t, err)
	assert.Equal(t, "sub_9", event.(SubscriptionCancelled).SubscriptionID)

	event, err = ParseEvent([]byte(`{"id":"e","eventType":"payment.failed","object":{"id":"pay_1","subscription":{"id":"sub_2"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "sub_2", event.(PaymentFailed).SubscriptionID)

	event, err = ParseEvent([]byte(`{"id":"e","eventType":"payment.failed","object":{"id":"pay_1"}}`))
	require.NoError(t, err)
	assert.Empty(t, event.(PaymentFailed).SubscriptionID)
}

func TestParseEventFallsBackToBodyHash(t *testing.T) {
	body := []byte(`{"eventType":"refund.created"}`)
	event, err := ParseEvent(body)
	require.NoError(t, err)
	sum := sha256.Sum256(body)
	assert.Equal(t, hex.EncodeToString(sum[:]), event.EventID())
}

func TestParseEventRejectsMalformed(t *testing.T) {
	for _, body := range []string{
		`not json`,
		`{"id":"e"}`,
		`{"id":"e","eventType":"checkout.completed","object":"oops"}`,
		`{"id":"e","eventType":"checkout.completed","object":{"metadata":{"items":"[{"}}}`,
	} {
		_, err := ParseEvent([]byte(body))
		require.Error(t, err, body)
		assert.True(t, errors.Is(err, errMalformedEvent), body)
	}
}
