package webhooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Gateway event names handled by the reconciler.
const (
	EventPaymentCaptured       = "payment.captured"
	EventPaymentFailed         = "payment.failed"
	EventSubscriptionCharged   = "subscription.charged"
	EventSubscriptionCancelled = "subscription.cancelled"
)

// Envelope is one webhook delivery. ID identifies the delivery, not the
// event: a redelivery of the same event may carry a new ID.
type Envelope struct {
	ID      string  `json:"id"`
	Event   string  `json:"event"`
	Payload Payload `json:"payload"`
}

type Payload struct {
	Payment      *PaymentWrapper      `json:"payment,omitempty"`
	Subscription *SubscriptionWrapper `json:"subscription,omitempty"`
}

type PaymentWrapper struct {
	Entity PaymentEntity `json:"entity"`
}

type SubscriptionWrapper struct {
	Entity SubscriptionEntity `json:"entity"`
}

type PaymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	ErrorDescription string `json:"error_description"`
	Notes            Notes  `json:"notes"`
}

// Notes are the merchant key/values echoed by the gateway. An empty set is
// sent as [] rather than {}.
type Notes map[string]string

func (n *Notes) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		*n = Notes{}
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return err
	}
	*n = m
	return nil
}

type SubscriptionEntity struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

const envelopeSchemaURL = "https://schemas.indostarnaturals.local/webhooks/envelope.schema.json"

const envelopeSchema = `{
  "type": "object",
  "required": ["event", "payload"],
  "properties": {
    "id": {"type": "string"},
    "event": {"type": "string", "minLength": 1},
    "payload": {"type": "object"}
  },
  "allOf": [
    {
      "if": {"properties": {"event": {"pattern": "^payment\\."}}},
      "then": {"properties": {"payload": {
        "required": ["payment"],
        "properties": {"payment": {"$ref": "#/$defs/payment"}}
      }}}
    },
    {
      "if": {"properties": {"event": {"const": "subscription.charged"}}},
      "then": {"properties": {"payload": {
        "required": ["payment", "subscription"],
        "properties": {
          "payment": {"$ref": "#/$defs/payment"},
          "subscription": {"$ref": "#/$defs/subscription"}
        }
      }}}
    },
    {
      "if": {"properties": {"event": {"const": "subscription.cancelled"}}},
      "then": {"properties": {"payload": {
        "required": ["subscription"],
        "properties": {"subscription": {"$ref": "#/$defs/subscription"}}
      }}}
    }
  ],
  "$defs": {
    "id": {"type": "string", "minLength": 1},
    "payment": {
      "type": "object",
      "required": ["entity"],
      "properties": {"entity": {
        "type": "object",
        "required": ["id", "amount"],
        "properties": {
          "id": {"$ref": "#/$defs/id"},
          "amount": {"type": "integer", "minimum": 0},
          "currency": {"type": "string"},
          "notes": {"type": ["object", "array"]}
        }
      }}
    },
    "subscription": {
      "type": "object",
      "required": ["entity"],
      "properties": {"entity": {
        "type": "object",
        "required": ["id"],
        "properties": {"id": {"$ref": "#/$defs/id"}}
      }}
    }
  }
}`

func compileEnvelopeSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(envelopeSchemaURL, strings.NewReader(envelopeSchema)); err != nil {
		return nil, fmt.Errorf("webhook schema load failed: %w", err)
	}
	schema, err := c.Compile(envelopeSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("webhook schema compile failed: %w", err)
	}
	return schema, nil
}
