package llm

import (
	"context"
	stderrors "errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Alb4don/RPGAgentArena/pkg/config"
	"github.com/Alb4don/RPGAgentArena/pkg/credentials"
	"github.com/Alb4don/RPGAgentArena/pkg/errors"
	"github.com/Alb4don/RPGAgentArena/pkg/logging"
)

// Message roles understood by the chat endpoint.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversation history.
type Message struct {
	Role    string
	Content string
}

// Request describes one chat completion. Thinking mode and sampling
// temperature are mutually exclusive; when Thinking is set, the thinking
// budget replaces the temperature.
type Request struct {
	System         string
	Messages       []Message
	MaxTokens      int
	Temperature    float64
	Thinking       bool
	ThinkingBudget int
}

// Response is the result of a completed call.
type Response struct {
	Text            string
	TokensIn        int64
	TokensOut       int64
	Model           string
	CredentialAlias string
	Latency         time.Duration
}

// Completer is the single operation the rest of the system needs from the
// call layer. Satisfied by *Client; tests substitute fakes.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Client wraps outbound chat calls with credential routing, transient
// failure classification and bounded exponential backoff.
type Client struct {
	pool *credentials.Pool
	cfg  config.LLMConfig

	mu      sync.Mutex
	clients map[string]anthropic.Client

	// sleep is swapped in tests so backoff does not slow the suite.
	sleep func(time.Duration)
}

// NewClient builds a call layer over the given credential pool.
func NewClient(pool *credentials.Pool, cfg config.LLMConfig) *Client {
	return &Client{
		pool:    pool,
		cfg:     cfg,
		clients: make(map[string]anthropic.Client),
		sleep:   time.Sleep,
	}
}

func (c *Client) clientFor(cred credentials.Credential) anthropic.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[cred.Alias]; ok {
		return client
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cred.Key),
		// The retry loop here owns backoff; the SDK must not retry underneath it.
		option.WithMaxRetries(0),
	}
	if c.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.cfg.BaseURL))
	}

	client := anthropic.NewClient(opts...)
	c.clients[cred.Alias] = client
	return client
}

// Complete executes one chat completion, retrying transient failures up to
// the configured attempt ceiling. Credential exhaustion and fatal API
// failures surface immediately; backoff for exhaustion is the caller's
// responsibility.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	logger := logging.GetLogger()

	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 4
	}

	var lastTransient error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := errors.CheckContext(ctx, "chat completion"); err != nil {
			return nil, err
		}

		cred, err := c.pool.Acquire()
		if err != nil {
			return nil, err
		}

		resp, status, err := c.attempt(ctx, cred, req)
		if err == nil {
			c.pool.ReportUsage(cred.Alias, resp.TokensIn, resp.TokensOut)
			logger.Debug(ctx, "completion served by %s: %d in / %d out tokens, %s",
				cred.Alias, resp.TokensIn, resp.TokensOut, resp.Latency)
			return resp, nil
		}

		if status == 0 {
			// Shape errors and the like: retrying will not fix them.
			return nil, err
		}

		c.pool.ReportError(cred.Alias, status)

		if !isTransientStatus(status) {
			return nil, errors.WithFields(
				errors.Wrap(err, errors.LLMGenerationFailed, "fatal API failure"),
				errors.Fields{"status": status, "credential": cred.Alias},
			)
		}

		lastTransient = err
		logger.Warn(ctx, "transient failure on %s (status %d), attempt %d/%d",
			cred.Alias, status, attempt+1, maxAttempts)

		delay := c.cfg.Retry.BaseDelay.Std() * (1 << attempt)
		if jitter := c.cfg.Retry.MaxJitter.Std(); jitter > 0 {
			delay += time.Duration(rand.Float64() * float64(jitter))
		}
		c.sleep(delay)
	}

	return nil, errors.WithFields(
		errors.Wrap(lastTransient, errors.LLMGenerationFailed, "call failed after all attempts"),
		errors.Fields{"attempts": maxAttempts},
	)
}

// attempt issues one request. The returned status is 0 when the error is
// not attributable to a response (shape errors), 503 for transport-level
// failures, or the HTTP status the provider returned.
func (c *Client) attempt(ctx context.Context, cred credentials.Credential, req Request) (*Response, int, error) {
	client := c.clientFor(cred)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.ModelID),
		MaxTokens: int64(req.MaxTokens),
		Messages:  buildMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Thinking {
		budget := req.ThinkingBudget
		if budget > req.MaxTokens-100 {
			budget = req.MaxTokens - 100
		}
		if budget < 1 {
			budget = 1
		}
		params.Thinking = anthropic.ThinkingConfigParamUnion{
			OfEnabled: &anthropic.ThinkingConfigEnabledParam{
				BudgetTokens: int64(budget),
			},
		}
	} else {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	attemptCtx := ctx
	if timeout := c.cfg.Timeout.Std(); timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	message, err := client.Messages.New(attemptCtx, params)
	latency := time.Since(start)

	if err != nil {
		var apiErr *anthropic.Error
		if stderrors.As(err, &apiErr) {
			return nil, apiErr.StatusCode, err
		}
		// Timeouts and transport failures count as a 503-equivalent
		// transient failure unless the parent context is gone.
		if ctx.Err() != nil {
			return nil, 0, errors.Wrap(ctx.Err(), errors.Canceled, "chat completion canceled")
		}
		return nil, 503, err
	}

	if message == nil || len(message.Content) == 0 {
		return nil, 0, errors.New(errors.InvalidResponse, "empty response payload from API")
	}

	var parts []string
	for _, block := range message.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	text := strings.TrimSpace(strings.Join(parts, "\n"))
	if text == "" {
		return nil, 0, errors.New(errors.InvalidResponse, "response contained no text blocks")
	}

	return &Response{
		Text:            text,
		TokensIn:        message.Usage.InputTokens,
		TokensOut:       message.Usage.OutputTokens,
		Model:           string(message.Model),
		CredentialAlias: cred.Alias,
		Latency:         latency,
	}, 0, nil
}

func isTransientStatus(status int) bool {
	return status == 429 || status == 529 || status >= 500
}

func buildMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}
