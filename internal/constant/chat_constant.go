package constant

const (
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
	ChatRoleSystem    = "system"

	ChatTransportSSE       = "sse"
	ChatTransportWebSocket = "websocket"

	// Closes every system prompt.
	ChatOutputInstruction = "output in a markdown format!!"

	ChatFailureMessage = "The assistant could not answer. Please try again."
)
