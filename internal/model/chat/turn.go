package chat

// Roles recorded in session history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single utterance within a session, either from the visitor or the
// assistant.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
