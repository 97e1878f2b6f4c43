package models

// ChatRole is the author of a conversation turn
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
	RoleSystem    ChatRole = "system"
)

// Valid reports whether r is one of the known roles
func (r ChatRole) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ChatTurn is a single message of a conversation
type ChatTurn struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// SourceCitation identifies a reference entry used to ground an answer
type SourceCitation struct {
	Category   string `json:"category"`
	Infraction string `json:"infraction"`
	Article    string `json:"article"`
}

// DeltaFrame carries an incremental piece of the answer
type DeltaFrame struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// TerminalFrame is the last frame of a successful chat stream
type TerminalFrame struct {
	Content      string           `json:"content"`
	Done         bool             `json:"done"`
	Sources      []SourceCitation `json:"sources"`
	FullResponse string           `json:"fullResponse"`
}
