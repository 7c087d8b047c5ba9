package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Mantoine56/spec-bot/internal/llm"
	"github.com/Mantoine56/spec-bot/internal/logging"
	"go.uber.org/zap"
)

const (
	// DefaultMaxRetries is the number of re-prompts after the first attempt.
	DefaultMaxRetries = 3

	// RetryPrompt is appended as a user message on every attempt after the first.
	RetryPrompt = "The previous response could not be parsed as valid JSON. " +
		"Please provide your response as valid JSON format only, " +
		"enclosed in ```json``` markdown code blocks."
)

var (
	// ErrParse is returned when no JSON object can be decoded.
	ErrParse = errors.New("parse failed")
	// ErrSchemaValidation is returned when strict validation rejects an object.
	ErrSchemaValidation = errors.New("schema validation failed")
)

// ExhaustedError reports that every GenerateAndParse attempt failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("Failed after %d attempts. Last error: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// ParseResult is the outcome of Parse or GenerateAndParse.
//
// Data is shared with the memo cache and must be treated as read-only.
type ParseResult struct {
	Success bool
	Mode    Mode
	Data    any
	Raw     string
	Err     error
}

// Decode re-encodes Data into v.
func (r ParseResult) Decode(v any) error {
	if !r.Success {
		return fmt.Errorf("decode unsuccessful result: %w", r.Err)
	}
	b, err := json.Marshal(r.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Generator is the model invocation capability. llm.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Response, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Option configures a Processor.
type Option func(*Processor)

// WithMaxRetries sets the number of re-prompts. Negative values are ignored.
func WithMaxRetries(n int) Option {
	return func(p *Processor) {
		if n >= 0 {
			p.maxRetries = n
		}
	}
}

// WithSleeper replaces the backoff sleep, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(p *Processor) {
		if s != nil {
			p.sleep = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithoutCache disables memoization.
func WithoutCache() Option {
	return func(p *Processor) {
		p.cacheEnabled = false
	}
}

type cacheKey struct {
	text   string
	schema string
}

// Processor parses model responses. It is safe for concurrent use.
type Processor struct {
	maxRetries   int
	sleep        Sleeper
	logger       *logging.Logger
	cacheEnabled bool

	mu    sync.RWMutex
	cache map[cacheKey]ParseResult
}

// NewProcessor creates a Processor.
func NewProcessor(opts ...Option) *Processor {
	p := &Processor{
		maxRetries:   DefaultMaxRetries,
		sleep:        sleepContext,
		logger:       logging.Nop(),
		cacheEnabled: true,
		cache:        make(map[cacheKey]ParseResult),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxRetries returns the configured re-prompt count.
func (p *Processor) MaxRetries() int {
	return p.maxRetries
}

// Parse extracts and decodes a JSON object from text and validates it
// against schema when one is given. In lenient mode (strict=false) a schema
// failure still succeeds and returns the unvalidated object.
func (p *Processor) Parse(text string, schema *Schema, strict bool) ParseResult {
	key := cacheKey{text: text, schema: schema.Name()}
	if !strict {
		key.schema += "~lenient"
	}
	if p.cacheEnabled {
		p.mu.RLock()
		res, ok := p.cache[key]
		p.mu.RUnlock()
		if ok {
			return res
		}
	}

	res := parse(text, schema, strict)

	if p.cacheEnabled {
		p.mu.Lock()
		p.cache[key] = res
		p.mu.Unlock()
	}
	return res
}

func parse(text string, schema *Schema, strict bool) ParseResult {
	ext := Extract(text)
	if ext.Mode != ModeJSON {
		return ParseResult{
			Mode: ext.Mode,
			Raw:  text,
			Err:  fmt.Errorf("%w: no JSON content detected, found %s", ErrParse, ext.Mode),
		}
	}

	var data any
	if err := json.Unmarshal([]byte(ext.Payload), &data); err != nil {
		return ParseResult{
			Mode: ModeJSON,
			Raw:  text,
			Err:  fmt.Errorf("%w: %v", ErrParse, err),
		}
	}

	if err := schema.Validate(data); err != nil {
		if strict {
			return ParseResult{
				Mode: ModeJSON,
				Raw:  text,
				Err:  fmt.Errorf("%w: %v", ErrSchemaValidation, err),
			}
		}
		return ParseResult{Success: true, Mode: ModeJSON, Data: data, Raw: text, Err: err}
	}

	return ParseResult{Success: true, Mode: ModeJSON, Data: data, Raw: text}
}

// ClearCache drops all memoized results.
func (p *Processor) ClearCache() {
	p.mu.Lock()
	p.cache = make(map[cacheKey]ParseResult)
	p.mu.Unlock()
}

// CallOptions tune GenerateAndParse.
type CallOptions struct {
	LLM    llm.Options
	Schema *Schema
	// Lenient accepts schema-invalid objects.
	Lenient bool
	// RetryPrompt overrides the default re-prompt text.
	RetryPrompt string
}

// GenerateAndParse invokes gen and parses its response, re-prompting on
// parse failures and backing off 2^attempt seconds after invocation errors.
// It makes at most MaxRetries+1 attempts.
//
// If the final attempt produced markdown or conversation text the result is
// a conversation-mode success. The returned error is non-nil only when the
// context is done or every attempt failed; in the latter case it is an
// *ExhaustedError.
func (p *Processor) GenerateAndParse(ctx context.Context, gen Generator, messages []llm.Message, opts CallOptions) (ParseResult, error) {
	retryPrompt := opts.RetryPrompt
	if retryPrompt == "" {
		retryPrompt = RetryPrompt
	}
	attempts := p.maxRetries + 1

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		msgs := messages
		if attempt > 0 {
			msgs = make([]llm.Message, len(messages), len(messages)+1)
			copy(msgs, messages)
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: retryPrompt})
			p.logger.Info(ctx, "retrying structured generation",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", p.maxRetries))
		}

		resp, err := gen.Generate(ctx, msgs, opts.LLM)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ParseResult{Mode: ModeJSON, Err: ctxErr}, ctxErr
			}
			lastErr = err
			p.logger.Error(ctx, "generation attempt failed",
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			if attempt == attempts-1 {
				break
			}
			wait := time.Duration(1<<attempt) * time.Second
			if err := p.sleep(ctx, wait); err != nil {
				return ParseResult{Mode: ModeJSON, Err: err}, err
			}
			continue
		}

		res := p.Parse(resp.Content, opts.Schema, !opts.Lenient)
		if res.Success {
			p.logger.Debug(ctx, "parsed structured response", zap.Int("attempt", attempt+1))
			return res, nil
		}
		lastErr = res.Err
		p.logger.Warn(ctx, "parse failed",
			zap.Int("attempt", attempt+1),
			zap.String("mode", string(res.Mode)),
			zap.Error(res.Err))

		if attempt == attempts-1 && (res.Mode == ModeMarkdown || res.Mode == ModeConversation) {
			p.logger.Info(ctx, "falling back to conversation mode")
			return ParseResult{
				Success: true,
				Mode:    ModeConversation,
				Data:    map[string]any{"content": resp.Content, "mode": string(ModeConversation)},
				Raw:     resp.Content,
			}, nil
		}
	}

	err := &ExhaustedError{Attempts: attempts, Last: lastErr}
	return ParseResult{Mode: ModeJSON, Err: err}, err
}
