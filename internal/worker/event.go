package worker

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventMessagesUpsert is the only event kind that carries an actionable
// inbound message; everything else is acknowledged as a no-op.
const EventMessagesUpsert = "messages.upsert"

// Event is the canonical parsed form of an inbound webhook payload. The
// ambiguous raw shape never travels past the parser.
type Event struct {
	Kind      string
	RemoteJID string // raw originating id, possibly suffixed (e.g. "...@s.whatsapp.net")
	Text      string // message body; empty for media-only or non-message events
}

// rawEvent mirrors the bridge's webhook payload. Some relays wrap the true
// payload inside jobData.body, so the shape nests one level.
type rawEvent struct {
	Event string `json:"event"`
	Data  struct {
		Key struct {
			RemoteJID string `json:"remoteJid"`
		} `json:"key"`
		Message struct {
			Conversation string `json:"conversation"`
		} `json:"message"`
	} `json:"data"`
	JobData struct {
		Body json.RawMessage `json:"body"`
	} `json:"jobData"`
}

// ParseEvent decodes a webhook payload into its canonical form, unwrapping
// one level of jobData.body nesting when present.
func ParseEvent(payload []byte) (Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Event{}, fmt.Errorf("parse webhook payload: %w", err)
	}

	if len(raw.JobData.Body) > 0 {
		var inner rawEvent
		if err := json.Unmarshal(raw.JobData.Body, &inner); err != nil {
			return Event{}, fmt.Errorf("parse nested webhook payload: %w", err)
		}
		raw = inner
	}

	return Event{
		Kind:      raw.Event,
		RemoteJID: raw.Data.Key.RemoteJID,
		Text:      raw.Data.Message.Conversation,
	}, nil
}

// NormalizeChannelID strips the domain qualifier from a remote JID, leaving
// the canonical phone address ("5511999999999@s.whatsapp.net" → "5511999999999").
func NormalizeChannelID(remoteJID string) string {
	if i := strings.IndexByte(remoteJID, '@'); i >= 0 {
		return remoteJID[:i]
	}
	return remoteJID
}
