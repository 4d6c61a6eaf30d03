// Package transcribe turns chunked audio into ordered transcript segments by
// driving remote ASR servers through the provider pool and retry policy.
package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"subflow/internal/config"
	"subflow/internal/logging"
	"subflow/internal/providers"
	"subflow/internal/retry"
	"subflow/internal/services"
)

// Chunk is one pre-cut audio file awaiting transcription. Start and End carry
// the chunk's position in the source recording so segments keep real
// timestamps.
type Chunk struct {
	Index int
	Path  string
	Start time.Duration
	End   time.Duration
}

// Segment is the transcript for one chunk. Segments are returned in
// sequence-index order regardless of worker completion order.
type Segment struct {
	Index int
	Text  string
	Start time.Duration
	End   time.Duration
}

// Client speaks one ASR server dialect.
type Client interface {
	// Transcribe submits one audio file and returns its plain-text transcript.
	Transcribe(ctx context.Context, candidate providers.Candidate, audioPath string, hotwords []string) (string, error)
	// Health probes the server. A failing probe marks the candidate down for
	// the current job before any chunk is wasted on it.
	Health(ctx context.Context, candidate providers.Candidate) error
}

// Progress is invoked after every chunk completes, success or failure.
type Progress func(done, total int)

// Engine coordinates chunk workers, provider failover, and reassembly.
type Engine struct {
	pool     *providers.Pool
	policy   retry.Policy
	clients  map[string]Client
	workers  int
	hotwords []string
	logger   *slog.Logger
}

// NewEngine wires the engine from validated configuration.
func NewEngine(cfg *config.Config, pool *providers.Pool, logger *slog.Logger) *Engine {
	policy := retry.NewPolicy(cfg.Transcription.MaxAttempts, time.Duration(cfg.Transcription.BaseDelaySeconds)*time.Second)
	return &Engine{
		pool:   pool,
		policy: policy,
		clients: map[string]Client{
			config.ServerKindFunASR:  NewFunASRClient(nil),
			config.ServerKindWhisper: NewWhisperClient(nil),
		},
		workers:  cfg.Transcription.Workers,
		hotwords: cfg.Transcription.Hotwords,
		logger:   logging.NewComponentLogger(logger, "transcribe"),
	}
}

// NewEngineWithClients builds an engine with explicit clients and policy.
// Used by tests to substitute fakes.
func NewEngineWithClients(pool *providers.Pool, policy retry.Policy, clients map[string]Client, workers int, logger *slog.Logger) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		pool:    pool,
		policy:  policy,
		clients: clients,
		workers: workers,
		logger:  logging.NewComponentLogger(logger, "transcribe"),
	}
}

// HealthCheck probes every enabled transcription server and demotes
// unreachable ones for this job. Returns an error only when no server
// survives the probe.
func (e *Engine) HealthCheck(ctx context.Context, jobID int64) error {
	candidates := e.pool.Candidates(providers.CapabilityTranscription, jobID)
	if len(candidates) == 0 {
		return services.Wrap(services.ErrConfiguration, "transcribe", "health_check", "no enabled transcription servers", nil)
	}

	healthy := 0
	for _, candidate := range candidates {
		client, ok := e.clients[candidate.Kind]
		if !ok {
			e.pool.MarkFailed(jobID, candidate.Name)
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, candidate.Timeout)
		err := client.Health(probeCtx, candidate)
		cancel()
		if err != nil {
			e.logger.Warn("transcription server failed health probe",
				logging.String(logging.FieldProvider, candidate.Name),
				logging.Error(err))
			e.pool.MarkFailed(jobID, candidate.Name)
			continue
		}
		healthy++
	}
	if healthy == 0 {
		return services.Wrap(services.ErrTransient, "transcribe", "health_check", "all transcription servers failed health probes", nil)
	}
	return nil
}

// Transcribe processes chunks with bounded parallelism and returns segments
// ordered by sequence index. A chunk that exhausts every provider fails the
// whole job with an error naming the chunk and the per-provider failures.
func (e *Engine) Transcribe(ctx context.Context, jobID int64, chunks []Chunk, progress Progress) ([]Segment, error) {
	if len(chunks) == 0 {
		return nil, services.Wrap(services.ErrInvalidInput, "transcribe", "transcribe", "no audio chunks to process", nil)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	segments := make([]Segment, len(chunks))
	sem := make(chan struct{}, e.workers)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		done     int
	)

	for _, chunk := range chunks {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(chunk Chunk) {
			defer wg.Done()
			defer func() { <-sem }()

			text, err := e.transcribeChunk(ctx, jobID, chunk)

			mu.Lock()
			defer mu.Unlock()
			done++
			if progress != nil {
				progress(done, len(chunks))
			}
			if err != nil {
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				return
			}
			segments[chunk.Index] = Segment{Index: chunk.Index, Text: text, Start: chunk.Start, End: chunk.End}
		}(chunk)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return segments, nil
}

// transcribeChunk walks the candidate list in priority order, retrying each
// candidate per the policy before demoting it and moving on.
func (e *Engine) transcribeChunk(ctx context.Context, jobID int64, chunk Chunk) (string, error) {
	var failures []services.ProviderFailure
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		candidates := e.pool.Candidates(providers.CapabilityTranscription, jobID)
		candidate, ok := nextUnattempted(candidates, failures)
		if !ok {
			return "", &services.ExhaustionError{
				Capability: "transcription",
				ChunkIndex: chunk.Index,
				Failures:   failures,
			}
		}

		client, found := e.clients[candidate.Kind]
		if !found {
			e.pool.MarkFailed(jobID, candidate.Name)
			failures = append(failures, services.ProviderFailure{
				Provider: candidate.Name,
				Err:      fmt.Errorf("no client for server kind %q", candidate.Kind),
			})
			continue
		}

		var text string
		records, err := e.policy.Execute(ctx, candidate.Name, func(callCtx context.Context) error {
			callCtx, cancel := context.WithTimeout(callCtx, candidate.Timeout)
			defer cancel()
			result, callErr := client.Transcribe(callCtx, candidate, chunk.Path, e.hotwords)
			if callErr != nil {
				return callErr
			}
			text = result
			return nil
		})
		if err == nil {
			e.logger.Info("chunk transcribed",
				logging.Int64(logging.FieldJobID, jobID),
				logging.Int(logging.FieldChunk, chunk.Index),
				logging.String(logging.FieldProvider, candidate.Name),
				logging.Int("attempts", len(records)))
			return text, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}

		e.logger.Warn("transcription candidate exhausted, failing over",
			logging.Int64(logging.FieldJobID, jobID),
			logging.Int(logging.FieldChunk, chunk.Index),
			logging.String(logging.FieldProvider, candidate.Name),
			logging.Error(err))
		e.pool.MarkFailed(jobID, candidate.Name)
		failures = append(failures, services.ProviderFailure{Provider: candidate.Name, Err: err})
	}
}

// nextUnattempted returns the first candidate this chunk has not yet tried.
// Pool demotions are job-wide, so a concurrent chunk may have already marked
// a candidate failed; the failures list keeps per-chunk bookkeeping exact.
func nextUnattempted(candidates []providers.Candidate, failures []services.ProviderFailure) (providers.Candidate, bool) {
	tried := make(map[string]struct{}, len(failures))
	for _, failure := range failures {
		tried[failure.Provider] = struct{}{}
	}
	for _, candidate := range candidates {
		if _, seen := tried[candidate.Name]; !seen {
			return candidate, true
		}
	}
	return providers.Candidate{}, false
}

// Assemble joins segments in order into one transcript. Blank segments are
// kept as empty lines so downstream timing stays aligned with chunk count.
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
