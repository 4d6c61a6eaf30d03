// Package providers maintains the prioritized endpoint pools that the
// transcription and translation engines draw candidates from. Failure marks
// are scoped to one job: a provider that was down for yesterday's job is
// tried again for today's.
package providers

import (
	"sort"
	"strings"
	"sync"
	"time"

	"subflow/internal/config"
	"subflow/internal/services"
)

// Capability tags which engine a candidate serves.
type Capability string

const (
	CapabilityTranscription Capability = "transcription"
	CapabilityTranslation   Capability = "translation"
)

// Candidate is one remote endpoint. Loaded from configuration at startup and
// immutable afterwards; only the pool's per-job failure marks affect selection.
type Candidate struct {
	Name       string
	Kind       string
	Capability Capability
	URL        string
	Priority   int
	Enabled    bool
	Timeout    time.Duration
	APIKey     string
	Model      string
	Prompt     string
}

// Pool holds all configured candidates and per-job failure marks.
type Pool struct {
	mu         sync.RWMutex
	candidates []Candidate
	// failed maps job id -> set of candidate names demoted for that job.
	failed map[int64]map[string]struct{}
}

// NewPool builds a pool from validated configuration.
func NewPool(cfg *config.Config) *Pool {
	pool := &Pool{failed: make(map[int64]map[string]struct{})}
	for _, server := range cfg.Transcription.Servers {
		pool.candidates = append(pool.candidates, Candidate{
			Name:       server.Name,
			Kind:       server.Kind,
			Capability: CapabilityTranscription,
			URL:        server.URL,
			Priority:   server.Priority,
			Enabled:    server.Enabled,
			Timeout:    time.Duration(server.TimeoutSeconds) * time.Second,
			APIKey:     server.APIKey,
			Model:      server.Model,
		})
	}
	for _, provider := range cfg.Translation.Providers {
		pool.candidates = append(pool.candidates, Candidate{
			Name:       provider.Name,
			Kind:       provider.Kind,
			Capability: CapabilityTranslation,
			URL:        provider.URL,
			Priority:   provider.Priority,
			Enabled:    provider.Enabled,
			Timeout:    time.Duration(provider.TimeoutSeconds) * time.Second,
			APIKey:     provider.APIKey,
			Model:      provider.Model,
			Prompt:     provider.Prompt,
		})
	}
	sort.SliceStable(pool.candidates, func(i, j int) bool {
		if pool.candidates[i].Priority != pool.candidates[j].Priority {
			return pool.candidates[i].Priority < pool.candidates[j].Priority
		}
		return pool.candidates[i].Name < pool.candidates[j].Name
	})
	return pool
}

// NewPoolFromCandidates builds a pool directly from candidates. Used by tests
// that exercise failover without a full configuration.
func NewPoolFromCandidates(candidates ...Candidate) *Pool {
	pool := &Pool{
		candidates: append([]Candidate(nil), candidates...),
		failed:     make(map[int64]map[string]struct{}),
	}
	sort.SliceStable(pool.candidates, func(i, j int) bool {
		if pool.candidates[i].Priority != pool.candidates[j].Priority {
			return pool.candidates[i].Priority < pool.candidates[j].Priority
		}
		return pool.candidates[i].Name < pool.candidates[j].Name
	})
	return pool
}

// Candidates returns the enabled candidates for a capability in priority
// order, excluding those marked failed for the given job.
func (p *Pool) Candidates(capability Capability, jobID int64) []Candidate {
	p.mu.RLock()
	defer p.mu.RUnlock()

	failed := p.failed[jobID]
	var out []Candidate
	for _, candidate := range p.candidates {
		if candidate.Capability != capability || !candidate.Enabled {
			continue
		}
		if _, demoted := failed[candidate.Name]; demoted {
			continue
		}
		out = append(out, candidate)
	}
	return out
}

// MarkFailed demotes a candidate for the remainder of one job. Global
// configuration is untouched; other jobs still see the candidate.
func (p *Pool) MarkFailed(jobID int64, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.failed[jobID]
	if !ok {
		set = make(map[string]struct{})
		p.failed[jobID] = set
	}
	set[name] = struct{}{}
}

// FailedCount reports how many candidates are demoted for a job.
func (p *Pool) FailedCount(jobID int64) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.failed[jobID])
}

// Reset clears a job's failure marks. Called when a job finishes or is
// requeued so stale demotions never leak into a new run.
func (p *Pool) Reset(jobID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.failed, jobID)
}

// Describe summarizes the configured candidates for logs and status output.
func (p *Pool) Describe(capability Capability) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var names []string
	for _, candidate := range p.candidates {
		if candidate.Capability != capability {
			continue
		}
		label := candidate.Name
		if !candidate.Enabled {
			label += " (disabled)"
		}
		names = append(names, label)
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

// Validate confirms at least one enabled candidate exists per required
// capability so a misconfigured daemon fails at startup instead of on the
// first job.
func (p *Pool) Validate(needTranscription, needTranslation bool) error {
	if needTranscription && len(p.Candidates(CapabilityTranscription, 0)) == 0 {
		return services.Wrap(services.ErrConfiguration, "providers", "validate", "no enabled transcription servers configured", nil)
	}
	if needTranslation && len(p.Candidates(CapabilityTranslation, 0)) == 0 {
		return services.Wrap(services.ErrConfiguration, "providers", "validate", "no enabled translation providers configured", nil)
	}
	return nil
}
