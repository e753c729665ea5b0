package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/apperrors"
)

const flatEvent = `{
	"EventType": "messages",
	"instanceName": "acme-main",
	"owner": "5511988887777",
	"message": {"id": "ABC123", "sender": "5511999998888@s.whatsapp.net", "fromMe": false,
		"messageType": "conversation", "text": "hi"}
}`

func TestNormalize_Shapes(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"flat", flatEvent},
		{"body wrapped", `{"body": ` + flatEvent + `}`},
		{"array wrapped", `[{"body": ` + flatEvent + `}]`},
		{"array of flat", `[` + flatEvent + `]`},
		{"body as string", `{"body": "{\"EventType\":\"messages\",\"instanceName\":\"acme-main\",\"message\":{\"id\":\"ABC123\",\"messageType\":\"conversation\"}}"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Normalize([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, "messages", env.Event.EventType)
			assert.Equal(t, "ABC123", env.Event.Message.ProviderID())
			assert.Equal(t, "acme-main", env.Event.InstanceName)
			assert.NotEmpty(t, env.Raw)
		})
	}
}

func TestNormalize_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ``},
		{"not json", `hello`},
		{"bare string", `"x"`},
		{"empty list", `[]`},
		{"two elements", `[` + flatEvent + `,` + flatEvent + `]`},
		{"no message", `{"EventType":"messages","instanceName":"a"}`},
		{"no event type", `{"instanceName":"a","message":{"id":"1"}}`},
		{"no instance", `{"EventType":"messages","message":{"id":"1"}}`},
		{"no message id", `{"EventType":"messages","instanceName":"a","message":{"text":"x"}}`},
		{"bad instance name", `{"EventType":"messages","instanceName":"a b","message":{"id":"1"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize([]byte(tt.body))
			assert.ErrorIs(t, err, apperrors.ErrMalformedPayload)
		})
	}
}

func TestNormalize_MessageIDFallback(t *testing.T) {
	env, err := Normalize([]byte(`{"EventType":"messages","instanceName":"a","message":{"messageid":"M-9"}}`))
	require.NoError(t, err)
	assert.Equal(t, "M-9", env.Event.Message.ProviderID())
}
