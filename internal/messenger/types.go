package messenger

// WebhookPayload is the body of a Messenger webhook POST: an object type
// and a batch of page entries.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry is one batch element: a page and its pending messaging events.
type Entry struct {
	ID        string           `json:"id"` // page id
	Time      int64            `json:"time,omitempty"`
	Messaging []MessagingEvent `json:"messaging"`
}

// MessagingEvent is a single conversational event. Message is nil for
// non-message events such as delivery receipts.
type MessagingEvent struct {
	Sender    Participant `json:"sender"`
	Recipient Participant `json:"recipient,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
	Message   *Message    `json:"message,omitempty"`
}

// Participant identifies a conversation party by its platform id.
type Participant struct {
	ID string `json:"id"`
}

// Message carries the user's text. Attachments are ignored by the relay.
type Message struct {
	MID  string `json:"mid,omitempty"`
	Text string `json:"text,omitempty"`
}
