// Package gateway holds the WhatsApp integration: the webhook payload
// shapes, the outbound send client, and the gin HTTP server that receives
// events and exposes health and metrics endpoints.
package gateway

import "strings"

// WebhookPayload is the inbound event envelope posted by the WhatsApp
// gateway. Field names follow the wire format.
type WebhookPayload struct {
	Instance         string      `json:"instance"`
	Event            string      `json:"event"`
	Data             WebhookData `json:"data"`
	MessageTimestamp int64       `json:"messageTimestamp"`
}

// WebhookData carries the message body and addressing.
type WebhookData struct {
	Key      MessageKey     `json:"key"`
	PushName string         `json:"pushName"`
	Message  MessageContent `json:"message"`
}

// MessageKey identifies the message and its sender.
type MessageKey struct {
	RemoteJid string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

// MessageContent holds the two text shapes the gateway delivers.
type MessageContent struct {
	Conversation        string `json:"conversation,omitempty"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage,omitempty"`
}

// Text returns the message text regardless of which shape carried it.
func (m MessageContent) Text() string {
	if m.Conversation != "" {
		return m.Conversation
	}
	if m.ExtendedTextMessage != nil {
		return m.ExtendedTextMessage.Text
	}
	return ""
}

// IsGroup reports whether the remote JID addresses a group chat. Group
// traffic is ignored.
func (k MessageKey) IsGroup() bool {
	return strings.HasSuffix(k.RemoteJid, "@g.us")
}
