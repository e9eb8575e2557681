package domain

// ChatMessage is a single conversation turn as exchanged with both the
// caller and the chat backend.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
