package bus

// InboundMessage is a text message arriving from a bridged channel.
type InboundMessage struct {
	Channel  string            `json:"channel"`
	SenderID string            `json:"sender_id"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Thread   string            `json:"thread,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is a reply headed back to a bridged channel.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	Thread  string `json:"thread,omitempty"`
	Content string `json:"content"`
}
