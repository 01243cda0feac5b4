package logging

import "context"

type contextKey string

const (
	agentIDKey   contextKey = "agent_id"
	modelIDKey   contextKey = "model_id"
	tokenInfoKey contextKey = "token_info"
)

// WithAgentID tags a context with the agent driving the current decision loop.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey, agentID)
}

// GetAgentID extracts the agent id from the context, if present.
func GetAgentID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(agentIDKey).(string)
	return id, ok
}

// WithModelID tags a context with the model serving the current call.
func WithModelID(ctx context.Context, modelID string) context.Context {
	return context.WithValue(ctx, modelIDKey, modelID)
}

// GetModelID extracts the model id from the context, if present.
func GetModelID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(modelIDKey).(string)
	return id, ok
}

// WithTokenInfo attaches token usage to the context for downstream log entries.
func WithTokenInfo(ctx context.Context, info *TokenInfo) context.Context {
	return context.WithValue(ctx, tokenInfoKey, info)
}

// GetTokenInfo extracts token usage from the context, if present.
func GetTokenInfo(ctx context.Context) (*TokenInfo, bool) {
	info, ok := ctx.Value(tokenInfoKey).(*TokenInfo)
	return info, ok
}
