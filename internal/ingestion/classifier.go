package ingestion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/apperrors"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/utils"
)

const (
	KindText  = "text"
	KindMedia = "media"

	supportedEventType = "messages"
	groupJIDSuffix     = "@g.us"
)

// Classified is a provider event reduced to what the pipeline persists.
type Classified struct {
	ProviderMessageID string
	InstanceName      string
	Owner             string
	Phone             string // counterpart, not yet normalized
	ContactName       string
	AvatarURL         string
	Direction         string
	Origin            string
	Kind              string
	Type              string // model.MessageType*
	Text              string
	MediaURL          string
	MimeType          string
	FileName          string
	Timestamp         time.Time
}

// DeliveryStatus is the initial delivery status for the message's direction.
func (c *Classified) DeliveryStatus() string {
	if c.Direction == model.DirectionInbound {
		return model.DeliveryStatusReceived
	}
	return model.DeliveryStatusSent
}

// Classify derives kind, direction and origin, rejecting unsupported events and
// filtering group traffic. now is used when the event carries no timestamp.
func Classify(ev *model.MessageWebhook, now time.Time) (*Classified, error) {
	if !strings.EqualFold(ev.EventType, supportedEventType) {
		return nil, fmt.Errorf("%w: event type %q", apperrors.ErrUnsupportedMessageType, ev.EventType)
	}
	msg := ev.Message
	if msg.IsGroup || strings.HasSuffix(msg.ChatID, groupJIDSuffix) {
		return nil, fmt.Errorf("%w: group chat", apperrors.ErrFiltered)
	}

	c := &Classified{
		ProviderMessageID: msg.ProviderID(),
		InstanceName:      ev.InstanceName,
		Owner:             ev.Owner,
		Phone:             msg.ChatID,
		Timestamp:         utils.UnixAutoToTime(msg.MessageTimestamp, now),
	}
	if c.Phone == "" {
		c.Phone = msg.Sender
	}
	c.Direction, c.Origin = DirectionOrigin(msg.FromMe, msg.WasSentByAPI, msg.DeviceSent != nil && *msg.DeviceSent)

	if ev.Chat != nil {
		c.ContactName = strings.TrimSpace(ev.Chat.Name)
		c.AvatarURL = ev.Chat.ImagePreview
	}
	if c.ContactName == "" && c.Direction == model.DirectionInbound {
		c.ContactName = strings.TrimSpace(msg.SenderName)
	}

	rawType := msg.MessageType
	if rawType == "" {
		rawType = msg.Type
	}
	normalized := NormalizeMessageType(rawType)
	contentText, media := parseContent(msg.Content)

	switch {
	case normalized == "conversation" || normalized == "extended-text":
		c.Kind = KindText
		c.Type = model.MessageTypeText
		c.Text = firstNonEmpty(msg.Text, contentText)

	case (msg.MediaType != "" && media != nil) || (media != nil && media.URL != ""):
		c.Kind = KindMedia
		hint := msg.MediaType
		if hint == "" {
			hint = normalized
		}
		c.Type = MediaKind(hint, media.Mimetype)
		c.MediaURL = strings.TrimSpace(media.URL)
		c.MimeType = media.Mimetype
		c.FileName = media.FileName
		c.Text = firstNonEmpty(msg.Text, media.Caption)

	default:
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnsupportedMessageType, rawType)
	}
	return c, nil
}

// DirectionOrigin maps the provider's fromMe/sentViaApi/sentFromDevice flags.
//
//	fromMe=false                         -> inbound,  device
//	fromMe, sentViaApi, !sentFromDevice  -> outbound, panel
//	fromMe, sentFromDevice               -> outbound, device
//	fromMe, anything else                -> outbound, device
func DirectionOrigin(fromMe, sentViaAPI, sentFromDevice bool) (direction, origin string) {
	switch {
	case !fromMe:
		return model.DirectionInbound, model.OriginDevice
	case sentViaAPI && !sentFromDevice:
		return model.DirectionOutbound, model.OriginPanel
	default:
		return model.DirectionOutbound, model.OriginDevice
	}
}

// NormalizeMessageType turns provider type names into kebab-case without the
// "-message" suffix: extendedTextMessage -> extended-text, imageMessage -> image.
func NormalizeMessageType(t string) string {
	t = strings.TrimSpace(t)
	var b strings.Builder
	b.Grow(len(t) + 4)
	prevLower := false
	for _, r := range t {
		switch {
		case r == '_' || r == ' ' || r == '-':
			if b.Len() > 0 {
				b.WriteByte('-')
			}
			prevLower = false
		case unicode.IsUpper(r):
			if prevLower {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(r))
			prevLower = false
		default:
			b.WriteRune(r)
			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		}
	}
	s := strings.Trim(b.String(), "-")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return strings.TrimSuffix(s, "-message")
}

// MediaKind maps a provider media type, falling back to the MIME prefix, to a stored message type.
func MediaKind(mediaType, mime string) string {
	switch NormalizeMessageType(mediaType) {
	case "image", "sticker":
		return model.MessageTypeImage
	case "video", "ptv", "gif":
		return model.MessageTypeVideo
	case "audio", "ptt", "voice":
		return model.MessageTypeAudio
	case "document", "file", "document-with-caption":
		return model.MessageTypeDocument
	}
	prefix, _, _ := strings.Cut(strings.ToLower(mime), "/")
	switch prefix {
	case "image":
		return model.MessageTypeImage
	case "video":
		return model.MessageTypeVideo
	case "audio":
		return model.MessageTypeAudio
	}
	return model.MessageTypeDocument
}

func parseContent(raw json.RawMessage) (string, *model.MediaContent) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		_ = json.Unmarshal(raw, &s)
		return s, nil
	case '{':
		var mc model.MediaContent
		if err := json.Unmarshal(raw, &mc); err != nil {
			return "", nil
		}
		return "", &mc
	}
	return "", nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
