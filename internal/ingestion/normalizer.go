package ingestion

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/apperrors"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/validator"
)

// Envelope is a normalized provider event plus the raw JSON it was decoded from.
type Envelope struct {
	Event *model.MessageWebhook
	Raw   json.RawMessage
}

// Normalize accepts an array-wrapped, body-wrapped or flat webhook body and returns
// the flat event. Anything else fails with ErrMalformedPayload.
func Normalize(body []byte) (*Envelope, error) {
	raw, err := unwrap(bytes.TrimSpace(body), 0)
	if err != nil {
		return nil, err
	}

	var event model.MessageWebhook
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedPayload, err)
	}
	if event.Message == nil {
		return nil, fmt.Errorf("%w: message is missing", apperrors.ErrMalformedPayload)
	}
	if event.EventType == "" {
		return nil, fmt.Errorf("%w: event type is missing", apperrors.ErrMalformedPayload)
	}
	if err := validator.Validate(event); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedPayload, err)
	}

	return &Envelope{Event: &event, Raw: raw}, nil
}

// unwrap peels a single-element list and/or a "body" key. depth guards against
// pathological nesting like [{"body":[{"body":...}]}].
func unwrap(b []byte, depth int) (json.RawMessage, error) {
	if depth > 3 {
		return nil, fmt.Errorf("%w: envelope nested too deeply", apperrors.ErrMalformedPayload)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty body", apperrors.ErrMalformedPayload)
	}

	switch b[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(b, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedPayload, err)
		}
		if len(items) != 1 {
			return nil, fmt.Errorf("%w: expected a single-element list, got %d", apperrors.ErrMalformedPayload, len(items))
		}
		return unwrap(bytes.TrimSpace(items[0]), depth+1)

	case '{':
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(b, &envelope); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedPayload, err)
		}
		inner, ok := envelope["body"]
		if !ok {
			return b, nil
		}
		inner = bytes.TrimSpace(inner)
		// some gateways forward the body as a JSON-encoded string
		if len(inner) > 0 && inner[0] == '"' {
			var s string
			if err := json.Unmarshal(inner, &s); err != nil {
				return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedPayload, err)
			}
			inner = bytes.TrimSpace([]byte(s))
		}
		return unwrap(inner, depth+1)

	case '"':
		return nil, fmt.Errorf("%w: body is a bare string", apperrors.ErrMalformedPayload)

	default:
		return nil, fmt.Errorf("%w: unrecognized envelope", apperrors.ErrMalformedPayload)
	}
}
