package chat

import "time"

// Conversation captures a transient anonymous conversation held by the mock backend.
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}
