package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	jobs "github.com/MickLesk/syncspace-sub002"
)

// DefaultTimeout is the handler budget used when neither the definition
// nor the registry sets one.
const DefaultTimeout = 5 * time.Minute

// HandlerFunc is a type-erased job handler working on raw JSON payloads.
// The typed Definition is converted to a HandlerFunc at registration time
// by closing over JSON decode, the typed handler and result encode.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Handler is a registered job type.
type Handler struct {
	Type     string
	Func     HandlerFunc
	Timeout  time.Duration
	Defaults Options
}

// Registry maps job types to handlers. It is safe for concurrent use and
// is expected to be populated at startup.
type Registry struct {
	mu             sync.RWMutex
	handlers       map[string]Handler
	defaultTimeout time.Duration
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers:       make(map[string]Handler),
		defaultTimeout: DefaultTimeout,
	}
}

// SetDefaultTimeout sets the timeout applied to handlers registered
// without one. It does not affect handlers already registered.
func (r *Registry) SetDefaultTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultTimeout = d
}

// Register registers a raw handler. Registering a type again replaces
// the previous handler.
func (r *Registry) Register(jobType string, fn HandlerFunc, timeout time.Duration, defaults ...Option) error {
	if jobType == "" {
		return &jobs.ValidationError{Field: "job_type", Reason: "must not be empty"}
	}
	if fn == nil {
		return &jobs.ValidationError{Field: "handler", Reason: "must not be nil"}
	}

	opts := DefaultOptions()
	for _, opt := range defaults {
		opt(&opts)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	opts.Timeout = timeout
	r.handlers[jobType] = Handler{Type: jobType, Func: fn, Timeout: timeout, Defaults: opts}
	return nil
}

// RegisterDefinition registers a typed job definition. The payload is
// JSON-decoded into T and the result JSON-encoded from R; handlers with a
// struct{} result store no result.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T, R any](r *Registry, def *Definition[T, R]) error {
	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return nil, jobs.Fatal(fmt.Errorf("unmarshal payload for job %q: %w", def.Type, err))
			}
		}
		res, err := def.Handler(ctx, t)
		if err != nil {
			return nil, err
		}
		if _, empty := any(res).(struct{}); empty {
			return nil, nil
		}
		out, err := json.Marshal(res)
		if err != nil {
			return nil, jobs.Fatal(fmt.Errorf("marshal result for job %q: %w", def.Type, err))
		}
		return out, nil
	}

	opts := def.Opts
	return r.Register(def.Type, handler, opts.Timeout, func(o *Options) { *o = opts })
}

// Get returns the handler for the given job type.
func (r *Registry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Has reports whether jobType is registered.
func (r *Registry) Has(jobType string) bool {
	_, ok := r.Get(jobType)
	return ok
}

// TimeoutOf returns the handler budget of jobType, or zero when it is not
// registered.
func (r *Registry) TimeoutOf(jobType string) time.Duration {
	h, ok := r.Get(jobType)
	if !ok {
		return 0
	}
	return h.Timeout
}

// Types returns all registered job types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// MaxTimeout returns the longest registered handler timeout, or the
// default timeout when nothing is registered.
func (r *Registry) MaxTimeout() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	longest := time.Duration(0)
	for _, h := range r.handlers {
		if h.Timeout > longest {
			longest = h.Timeout
		}
	}
	if longest == 0 {
		return r.defaultTimeout
	}
	return longest
}
