package risk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// Adapter is a pluggable detector that runs after the base classifier. It
// receives the current assessment and proposes a new one; the Pipeline only
// ever lets it escalate.
type Adapter interface {
	Name() string
	Assess(ctx context.Context, in Input, prior []Turn, current Assessment) (Assessment, error)
}

// AdapterFunc adapts a plain function into an Adapter.
type AdapterFunc struct {
	AdapterName string
	Fn          func(ctx context.Context, in Input, prior []Turn, current Assessment) (Assessment, error)
}

func (f AdapterFunc) Name() string { return f.AdapterName }

func (f AdapterFunc) Assess(ctx context.Context, in Input, prior []Turn, current Assessment) (Assessment, error) {
	return f.Fn(ctx, in, prior, current)
}

var (
	ErrDuplicateAdapter = errors.New("adapter already registered")
	ErrAdapterTimeout   = errors.New("adapter timed out")
)

// PipelineObserver receives adapter outcomes, typically for metrics.
type PipelineObserver interface {
	AdapterFailed(name string)
	AdapterEscalated(name string, tier Tier)
}

// Pipeline runs registered adapters in registration order. Registration may
// happen at any time; a run uses the adapters registered when it started.
type Pipeline struct {
	mu       sync.RWMutex
	adapters []Adapter
	timeout  time.Duration
	observer PipelineObserver
}

const defaultAdapterTimeout = 250 * time.Millisecond

func NewPipeline(timeout time.Duration, adapters ...Adapter) (*Pipeline, error) {
	if timeout <= 0 {
		timeout = defaultAdapterTimeout
	}
	p := &Pipeline{timeout: timeout}
	for _, a := range adapters {
		if err := p.Register(a); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Pipeline) Register(a Adapter) error {
	if a == nil {
		return fmt.Errorf("register adapter: nil adapter")
	}
	name := strings.TrimSpace(a.Name())
	if name == "" {
		return fmt.Errorf("register adapter: empty name")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.adapters {
		if existing.Name() == name {
			return fmt.Errorf("register adapter %q: %w", name, ErrDuplicateAdapter)
		}
	}
	p.adapters = append(p.adapters, a)
	return nil
}

// Adapters returns registered adapter names in execution order.
func (p *Pipeline) Adapters() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.adapters))
	for _, a := range p.adapters {
		out = append(out, a.Name())
	}
	return out
}

func (p *Pipeline) SetObserver(o PipelineObserver) {
	p.mu.Lock()
	p.observer = o
	p.mu.Unlock()
}

// Run applies every adapter to base in order. Each adapter sees the
// accumulated assessment so far. A failing adapter contributes nothing.
func (p *Pipeline) Run(ctx context.Context, in Input, prior []Turn, base Assessment) Assessment {
	p.mu.RLock()
	adapters := append([]Adapter(nil), p.adapters...)
	observer := p.observer
	p.mu.RUnlock()

	current := base.Clone()
	for _, a := range adapters {
		name := a.Name()
		proposed, err := p.runOne(ctx, a, in, prior, current.Clone())
		if err == nil && !proposed.Tier.Valid() {
			err = fmt.Errorf("invalid tier %q", proposed.Tier)
		}
		if err != nil {
			log.Printf("risk adapter %s failed session=%s: %v", name, in.SessionID, err)
			current.Notes = append(current.Notes, fmt.Sprintf("adapter %s failed", name))
			if observer != nil {
				observer.AdapterFailed(name)
			}
			continue
		}

		merged := clamp(current, proposed)
		if merged.Tier.Rank() > current.Tier.Rank() {
			merged.Notes = append(merged.Notes, fmt.Sprintf("adapter %s escalated tier to %s", name, merged.Tier))
			if observer != nil {
				observer.AdapterEscalated(name, merged.Tier)
			}
		}
		current = merged
	}
	return current
}

func (p *Pipeline) runOne(ctx context.Context, a Adapter, in Input, prior []Turn, current Assessment) (Assessment, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type result struct {
		a   Assessment
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		got, err := a.Assess(ctx, in, prior, current)
		done <- result{a: got, err: err}
	}()

	select {
	case r := <-done:
		return r.a, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Assessment{}, ErrAdapterTimeout
		}
		return Assessment{}, ctx.Err()
	}
}

// clamp merges an adapter proposal into current without lowering the tier,
// dropping keywords or removing notes.
func clamp(current, proposed Assessment) Assessment {
	out := current.Clone()
	out.Tier = MaxTier(current.Tier, proposed.Tier)
	if proposed.Score > out.Score {
		out.Score = proposed.Score
	}
	if out.Score > 1 {
		out.Score = 1
	}
	out.Flags = unionFlags(current.Flags, proposed.Flags)

	seen := make(map[string]struct{}, len(out.Notes))
	for _, n := range out.Notes {
		seen[n] = struct{}{}
	}
	for _, n := range proposed.Notes {
		if _, ok := seen[n]; ok || strings.TrimSpace(n) == "" {
			continue
		}
		seen[n] = struct{}{}
		out.Notes = append(out.Notes, n)
	}
	return out
}
