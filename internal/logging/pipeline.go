package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

// PublishResult reports the outcome of one Publish call.
type PublishResult struct {
	Accepted bool
	Reason   string // "level", "sampling", "rate_limit", or "" when accepted
}

// Stats are the pipeline's drop counters.
type Stats struct {
	Published          uint64
	DroppedBySampling  uint64
	DroppedByRateLimit uint64
	TransportErrors    uint64
}

// Pipeline is the structured log path: validation → level filter →
// sampling → rate limit → JSON formatting → transports.
type Pipeline struct {
	minLevel   Level
	namespace  string
	sampler    *Sampler
	limiter    *RateLimiter
	transports []Transport

	published          atomic.Uint64
	droppedBySampling  atomic.Uint64
	droppedByRateLimit atomic.Uint64
	transportErrors    atomic.Uint64
}

// NewPipeline assembles a pipeline. Records below minLevel are
// dropped before sampling.
func NewPipeline(minLevel Level, namespace string, sampler *Sampler, limiter *RateLimiter, transports ...Transport) *Pipeline {
	if !ValidLevel(minLevel) {
		minLevel = LevelInfo
	}
	return &Pipeline{
		minLevel:   minLevel,
		namespace:  namespace,
		sampler:    sampler,
		limiter:    limiter,
		transports: transports,
	}
}

// Format renders a record as JSON after validating it. A context
// violation is returned as the *ContextError naming the field.
func Format(rec Record) ([]byte, error) {
	if err := ValidateRecord(rec); err != nil {
		return nil, err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal log record: %w", err)
	}
	return data, nil
}

// Publish runs one record through the pipeline. Validation failures
// are returned as errors; filtered records return a PublishResult
// with the drop reason.
func (p *Pipeline) Publish(rec Record) (PublishResult, error) {
	if rec.TS.IsZero() {
		rec.TS = time.Now()
	}
	if err := ValidateRecord(rec); err != nil {
		return PublishResult{}, err
	}

	if levelRank[rec.Level] < levelRank[p.minLevel] {
		return PublishResult{Reason: "level"}, nil
	}
	if p.sampler != nil && !p.sampler.Sample(rec.Event) {
		p.droppedBySampling.Add(1)
		return PublishResult{Reason: "sampling"}, nil
	}
	if p.limiter != nil && !p.limiter.Allow(rec.Event) {
		p.droppedByRateLimit.Add(1)
		return PublishResult{Reason: "rate_limit"}, nil
	}

	formatted, err := json.Marshal(rec)
	if err != nil {
		return PublishResult{}, fmt.Errorf("marshal log record: %w", err)
	}

	for _, t := range p.transports {
		if err := t.Emit(rec, formatted); err != nil {
			p.transportErrors.Add(1)
			// Backpressure is counted and reported to stderr, never
			// propagated to sessions.
			fmt.Fprintf(os.Stderr, "webssh2: log transport %s: %v\n", t.Name(), err)
		}
	}
	p.published.Add(1)
	return PublishResult{Accepted: true}, nil
}

// Stats returns a snapshot of the drop counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Published:          p.published.Load(),
		DroppedBySampling:  p.droppedBySampling.Load(),
		DroppedByRateLimit: p.droppedByRateLimit.Load(),
		TransportErrors:    p.transportErrors.Load(),
	}
}

// Close shuts down every transport, flushing queued entries.
func (p *Pipeline) Close() error {
	var first error
	for _, t := range p.transports {
		if err := t.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
