// Package execctx implements the execution-context tree: one root per job,
// one child per stage or step. A context owns a variable scope, a
// restriction descriptor and a cancellation signal derived from its
// parent's. Cancellation fans out downward only; a child completing or
// failing never cancels its parent.
package execctx

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/vk/rigrunner/internal/ctxlog"
	"github.com/vk/rigrunner/internal/restrict"
	"github.com/vk/rigrunner/internal/vars"
)

// Context is one node of the execution-context tree. Create it via NewRoot
// or NewChild, call Start before doing work, and Complete exactly once in a
// deferred block. After Complete the node is immutable.
type Context struct {
	id          string
	label       string
	refName     string
	scope       *vars.Scope
	restriction restrict.Descriptor
	forward     bool

	parent *Context
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	started  bool
	result   Result
	failure  error
	complete bool
}

// Option configures a context at creation time.
type Option func(*Context)

// WithID pins the context id. Main-stage task steps use the task's stable
// identity so retries correlate; everything else gets a generated uuid.
func WithID(id string) Option {
	return func(c *Context) { c.id = id }
}

// WithScope attaches a variable scope. Without it, the node derives a child
// scope from its parent (the root creates a fresh one).
func WithScope(scope *vars.Scope) Option {
	return func(c *Context) { c.scope = scope }
}

// WithRestriction attaches the merged restriction descriptor.
func WithRestriction(d restrict.Descriptor) Option {
	return func(c *Context) { c.restriction = d }
}

// WithOutputForwarding marks the context's output for forwarding to the
// orchestration service live, rather than only at completion.
func WithOutputForwarding() Option {
	return func(c *Context) { c.forward = true }
}

// NewRoot creates the job's root context. Its cancellation derives from
// parent: when parent fires, the whole tree fires.
func NewRoot(parent context.Context, label string, scope *vars.Scope, opts ...Option) *Context {
	ctx, cancel := context.WithCancel(parent)
	c := &Context{
		id:      uuid.NewString(),
		label:   label,
		refName: "job",
		scope:   scope,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewChild creates a node under c. The child's cancellation is derived from
// c's: it fires whenever c's fires, including the case where c was already
// canceled before the child existed.
func (c *Context) NewChild(label, refName string, opts ...Option) *Context {
	ctx, cancel := context.WithCancel(c.ctx)
	child := &Context{
		id:      uuid.NewString(),
		label:   label,
		refName: refName,
		parent:  c,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(child)
	}
	if child.scope == nil && c.scope != nil {
		child.scope = c.scope.NewChild()
	}
	return child
}

// ID returns the node's stable identifier.
func (c *Context) ID() string { return c.id }

// Label returns the human-readable name.
func (c *Context) Label() string { return c.label }

// RefName returns the machine-readable name.
func (c *Context) RefName() string { return c.refName }

// Scope returns the node's variable scope.
func (c *Context) Scope() *vars.Scope { return c.scope }

// Restriction returns the attached restriction descriptor.
func (c *Context) Restriction() restrict.Descriptor { return c.restriction }

// ForwardsOutput reports the output-forwarding flag.
func (c *Context) ForwardsOutput() bool { return c.forward }

// Context exposes the cancellation signal as a context.Context for passing
// into blocking collaborators.
func (c *Context) Context() context.Context { return c.ctx }

// Done returns the cancellation channel.
func (c *Context) Done() <-chan struct{} { return c.ctx.Done() }

// Canceled reports whether the signal has fired.
func (c *Context) Canceled() bool { return c.ctx.Err() != nil }

// Cancel fires this node's signal and, transitively, every descendant's.
// The parent is untouched.
func (c *Context) Cancel() { c.cancel() }

// Logger returns the context's logger annotated with the node identity.
func (c *Context) Logger(ctx context.Context) *slog.Logger {
	return ctxlog.FromContext(ctx).With("context", c.refName, "contextId", c.id)
}

// Start marks the node as running. Calling Start twice is a programming
// error and is ignored rather than corrupting state.
func (c *Context) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
}

// Started reports whether Start ran.
func (c *Context) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Fail records the typed failure reason for this node. The lifecycle driver
// is the only place that converts it into a job-level result.
func (c *Context) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.complete {
		return
	}
	c.failure = err
}

// FailureReason returns the recorded failure, if any.
func (c *Context) FailureReason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// Complete records the terminal result exactly once and releases the node's
// own cancellation resources. Later calls are no-ops, so it is safe in a
// deferred block alongside explicit completion paths.
func (c *Context) Complete(result Result) {
	c.mu.Lock()
	if c.complete {
		c.mu.Unlock()
		return
	}
	c.complete = true
	c.result = result
	c.mu.Unlock()

	// Completion tears down this node's subtree signal only; the parent's
	// signal is independent.
	c.cancel()
}

// Completed reports whether Complete ran.
func (c *Context) Completed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.complete
}

// Result returns the recorded terminal result, or Unfinished.
func (c *Context) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}
