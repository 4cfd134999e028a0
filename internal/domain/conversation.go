package domain

// Turn is a single persisted conversation exchange: the user's message and
// the assistant's paired answer. A turn is only written once the answer is
// available, so a conversation never contains an orphaned user message.
type Turn struct {
	PK             string
	SK             string
	ConversationID string
	Text           string
	Answer         string
	Status         string
	TTL            int64
}

// Qualification is the per-turn snapshot of conversation state computed by
// the orchestrator and persisted alongside each completed turn.
type Qualification struct {
	LeadID         string
	Turns          int
	Phase          int
	IdentifiedNeed string
	Language       string
}

// ConversationMeta stores aggregate qualification state for a conversation.
type ConversationMeta struct {
	PK             string
	SK             string
	ConversationID string
	LeadID         string
	Turns          int
	Phase          int
	IdentifiedNeed string
	Language       string
	Report         string
	FitScore       *int
	LastActivity   string
	TTL            int64
}
