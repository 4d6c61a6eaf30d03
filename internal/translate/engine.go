// Package translate renders transcript text into the target language through
// a statically prioritized provider list. Unlike transcription, provider
// selection here is configuration-driven only: disabled providers are skipped
// outright and a failure for one chunk does not demote the provider for the
// next.
package translate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"subflow/internal/chunking"
	"subflow/internal/config"
	"subflow/internal/logging"
	"subflow/internal/providers"
	"subflow/internal/retry"
	"subflow/internal/services"
)

// minInputForRatioCheck keeps the length heuristic away from trivially short
// inputs, where a legitimate translation can be a fraction of the original.
const minInputForRatioCheck = 20

// Segment is the translation of one text chunk.
type Segment struct {
	Index int
	Text  string
}

// Outcome carries the ordered segments plus every attempt made, for
// diagnostics and progress reporting.
type Outcome struct {
	Segments []Segment
	Attempts []retry.AttemptRecord
}

// Client speaks one translation provider dialect.
type Client interface {
	Translate(ctx context.Context, candidate providers.Candidate, text, sourceLang, targetLang string) (string, error)
}

// Engine drives chunks through the provider list with per-provider rate
// limiting and soft-failure fallback.
type Engine struct {
	pool     *providers.Pool
	policy   retry.Policy
	clients  map[string]Client
	minRatio float64
	interval time.Duration
	logger   *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	lastCall map[string]time.Time
}

// NewEngine wires the engine from validated configuration.
func NewEngine(cfg *config.Config, pool *providers.Pool, logger *slog.Logger) *Engine {
	policy := retry.NewPolicy(cfg.Translation.MaxAttempts, time.Duration(cfg.Translation.BaseDelaySeconds)*time.Second)
	return &Engine{
		pool:   pool,
		policy: policy,
		clients: map[string]Client{
			config.ProviderKindDeepLX: NewDeepLXClient(nil),
			config.ProviderKindDeepL:  NewDeepLClient(nil),
			config.ProviderKindOpenAI: NewOpenAIClient(nil),
		},
		minRatio: cfg.Translation.MinLengthRatio,
		interval: time.Duration(cfg.Translation.RequestIntervalMS) * time.Millisecond,
		logger:   logging.NewComponentLogger(logger, "translate"),
		now:      time.Now,
		sleep:    sleepContext,
		lastCall: make(map[string]time.Time),
	}
}

// NewEngineWithClients builds an engine with explicit collaborators for tests.
func NewEngineWithClients(pool *providers.Pool, policy retry.Policy, clients map[string]Client, minRatio float64, interval time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		pool:     pool,
		policy:   policy,
		clients:  clients,
		minRatio: minRatio,
		interval: interval,
		logger:   logging.NewComponentLogger(logger, "translate"),
		now:      time.Now,
		sleep:    sleepContext,
		lastCall: make(map[string]time.Time),
	}
}

// WithClock substitutes the time source and sleeper. Test hook.
func (e *Engine) WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) *Engine {
	e.now = now
	e.sleep = sleep
	return e
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Translate processes chunks in order and returns one segment per chunk.
// On exhausting every provider for a chunk the whole job fails; the caller
// decides whether a degraded untranslated result is acceptable.
func (e *Engine) Translate(ctx context.Context, jobID int64, chunks []chunking.TextChunk, sourceLang, targetLang string, progress func(done, total int)) (*Outcome, error) {
	if len(chunks) == 0 {
		return nil, services.Wrap(services.ErrInvalidInput, "translate", "translate", "no text chunks to process", nil)
	}

	outcome := &Outcome{Segments: make([]Segment, len(chunks))}
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, attempts, err := e.translateChunk(ctx, jobID, chunk, sourceLang, targetLang)
		outcome.Attempts = append(outcome.Attempts, attempts...)
		if err != nil {
			return outcome, err
		}
		outcome.Segments[chunk.Index] = Segment{Index: chunk.Index, Text: text}
		if progress != nil {
			progress(chunk.Index+1, len(chunks))
		}
	}
	return outcome, nil
}

func (e *Engine) translateChunk(ctx context.Context, jobID int64, chunk chunking.TextChunk, sourceLang, targetLang string) (string, []retry.AttemptRecord, error) {
	candidates := e.pool.Candidates(providers.CapabilityTranslation, jobID)
	if len(candidates) == 0 {
		return "", nil, services.Wrap(services.ErrConfiguration, "translate", "translate", "no enabled translation providers", nil)
	}

	var allAttempts []retry.AttemptRecord
	var failures []services.ProviderFailure
	for _, candidate := range candidates {
		client, ok := e.clients[candidate.Kind]
		if !ok {
			failures = append(failures, services.ProviderFailure{
				Provider: candidate.Name,
				Err:      fmt.Errorf("no client for provider kind %q", candidate.Kind),
			})
			continue
		}

		var text string
		records, err := e.policy.Execute(ctx, candidate.Name, func(callCtx context.Context) error {
			if err := e.waitTurn(callCtx, candidate.Name); err != nil {
				return err
			}
			callCtx, cancel := context.WithTimeout(callCtx, candidate.Timeout)
			defer cancel()
			result, callErr := client.Translate(callCtx, candidate, chunk.Text, sourceLang, targetLang)
			if callErr != nil {
				return callErr
			}
			if err := e.checkPlausible(chunk.Text, result); err != nil {
				return err
			}
			text = result
			return nil
		})
		allAttempts = append(allAttempts, records...)
		if err == nil {
			return text, allAttempts, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", allAttempts, ctxErr
		}

		e.logger.Warn("translation provider failed, falling over",
			logging.Int64(logging.FieldJobID, jobID),
			logging.Int(logging.FieldChunk, chunk.Index),
			logging.String(logging.FieldProvider, candidate.Name),
			logging.Error(err))
		failures = append(failures, services.ProviderFailure{Provider: candidate.Name, Err: err})
	}

	return "", allAttempts, &services.ExhaustionError{
		Capability: "translation",
		ChunkIndex: chunk.Index,
		Failures:   failures,
	}
}

// checkPlausible flags soft failures: an empty result, or output implausibly
// short against a non-trivial input. Soft failures are terminal for the
// current provider so fallback happens immediately instead of burning the
// retry budget on a provider that is up but useless.
func (e *Engine) checkPlausible(input, output string) error {
	if output == "" {
		return services.Wrap(services.ErrTerminal, "translate", "translate", "provider returned empty result", nil)
	}
	if e.minRatio <= 0 {
		return nil
	}
	inputLen := utf8.RuneCountInString(input)
	if inputLen < minInputForRatioCheck {
		return nil
	}
	ratio := float64(utf8.RuneCountInString(output)) / float64(inputLen)
	if ratio < e.minRatio {
		return services.Wrap(services.ErrTerminal, "translate", "translate",
			fmt.Sprintf("result implausibly short: %.2f of input length", ratio), nil)
	}
	return nil
}

// waitTurn enforces the per-provider minimum request interval. The delay is
// provider-scoped: calls to different providers never wait on each other.
func (e *Engine) waitTurn(ctx context.Context, provider string) error {
	if e.interval <= 0 {
		return nil
	}

	e.mu.Lock()
	last, seen := e.lastCall[provider]
	now := e.now()
	var wait time.Duration
	if seen {
		if elapsed := now.Sub(last); elapsed < e.interval {
			wait = e.interval - elapsed
		}
	}
	e.lastCall[provider] = now.Add(wait)
	e.mu.Unlock()

	if wait > 0 {
		return e.sleep(ctx, wait)
	}
	return nil
}

// Assemble joins translated segments in order, one chunk per line block.
func Assemble(segments []Segment) string {
	var out string
	for i, segment := range segments {
		if i > 0 {
			out += "\n"
		}
		out += segment.Text
	}
	return out
}
