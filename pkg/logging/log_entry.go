package logging

// LogEntry represents a structured log record with fields particularly
// relevant to agent decisions and LLM calls.
type LogEntry struct {
	// Standard fields
	Time     int64
	Severity Severity
	Message  string
	File     string
	Line     int
	Function string

	// Call-specific fields
	ModelID         string     // The model being used
	CredentialAlias string     // Which credential served the call
	AgentID         string     // The deciding agent, if any
	TokenInfo       *TokenInfo // Token usage information
	Latency         int64      // Operation duration in milliseconds

	// General structured data
	Fields map[string]interface{}
}

// TokenInfo tracks token usage for cost and budget accounting.
type TokenInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
