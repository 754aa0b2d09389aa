// Package scheme implements the intercepted-request pipeline for
// custom URL schemes.
//
// The platform layer hands each inbound request to the Registry, which
// invokes the resolver registered for the scheme. Resolvers answer
// synchronously or keep the Executor and complete later from any
// thread; the pipeline marshals the completion back onto the main loop
// before handing the response to the platform's pending callback.
package scheme

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/bnema/tether/pkg/dispatch"
	"github.com/bnema/tether/pkg/stash"
)

// StatusNoResponse is the fixed status a request fails with when its
// executor is dropped without ever completing. 444 follows the
// closed-without-response convention.
const StatusNoResponse = 444

// Error is a resolver rejection code, mapped onto an HTTP status for
// the platform layer.
type Error int

const (
	ErrorFailed Error = iota
	ErrorNotFound
	ErrorInvalid
	ErrorAborted
	ErrorDenied
)

// Status maps the rejection onto an HTTP status code.
func (e Error) Status() int {
	switch e {
	case ErrorNotFound:
		return http.StatusNotFound
	case ErrorInvalid:
		return http.StatusBadRequest
	case ErrorAborted:
		return StatusNoResponse
	case ErrorDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (e Error) String() string {
	switch e {
	case ErrorNotFound:
		return "not found"
	case ErrorInvalid:
		return "invalid"
	case ErrorAborted:
		return "aborted"
	case ErrorDenied:
		return "denied"
	default:
		return "failed"
	}
}

// Request is one inbound custom-scheme request. It is read-only once
// received and only valid for the duration of the platform callback
// that produced it; use Retain to keep data past that point.
type Request struct {
	URL    string
	Method string
	Header http.Header
	Body   stash.Stash
}

// Retain returns a request whose header and body are private copies,
// safe to hold after the platform request object is gone.
func (r *Request) Retain() *Request {
	return &Request{
		URL:    r.URL,
		Method: r.Method,
		Header: r.Header.Clone(),
		Body:   r.Body.Copy(),
	}
}

// Response answers a request.
type Response struct {
	Status int
	Header http.Header
	Body   stash.Stash
}

// NewResponse builds a response with a content type header.
func NewResponse(status int, contentType string, body stash.Stash) *Response {
	header := http.Header{}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	return &Response{Status: status, Header: header, Body: body}
}

// errorResponse is what rejections and pipeline failures deliver.
func errorResponse(status int) *Response {
	return &Response{Status: status, Header: http.Header{}}
}

// Resolver answers requests for one scheme. It may resolve before
// returning or hold on to the executor and complete later.
type Resolver interface {
	Resolve(req *Request, ex *Executor)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(req *Request, ex *Executor)

// Resolve calls f(req, ex).
func (f ResolverFunc) Resolve(req *Request, ex *Executor) {
	f(req, ex)
}

// LaunchPolicy controls how the pipeline waits for a resolver.
type LaunchPolicy int

const (
	// LaunchAsync defers unresolved requests indefinitely; the
	// platform callback returns and the completion arrives later.
	LaunchAsync LaunchPolicy = iota

	// LaunchSync pumps the main loop until the request's completion
	// callback has run. Only for platforms whose native scheme
	// callback cannot be asynchronous.
	LaunchSync
)

// executor states.
const (
	statePending int32 = iota
	stateCompleted
	stateAbandoned
)

// Executor completes one request, exactly once, from any thread. A
// second completion of an executor the pipeline still owns is a
// programming error and panics; completing an executor the pipeline
// has already failed (resolver panicked, or the executor was dropped)
// is a stale no-op.
//
// Dropping the last reference to an Executor without completing it
// eventually fails the request with StatusNoResponse, so a resolver
// that forgets to answer cannot park a request forever.
type Executor struct {
	s *execState
}

// execState outlives the Executor handle given to the resolver; the
// registry keeps it to wait on the completion signal.
type execState struct {
	loop     *dispatch.Loop
	state    atomic.Int32
	complete func(*Response)
	done     chan struct{}
	log      zerolog.Logger
}

// Resolve delivers res. Marshals onto the main loop when called from
// another thread.
func (e *Executor) Resolve(res *Response) {
	e.s.resolve(res)
	runtime.KeepAlive(e)
}

// Reject fails the request with a rejection code.
func (e *Executor) Reject(code Error) {
	e.s.log.Debug().Str("error", code.String()).Msg("request rejected")
	e.s.resolve(errorResponse(code.Status()))
	runtime.KeepAlive(e)
}

func (s *execState) resolve(res *Response) {
	if res == nil {
		res = errorResponse(http.StatusInternalServerError)
	}

	if !s.state.CompareAndSwap(statePending, stateCompleted) {
		if s.state.Load() == stateAbandoned {
			s.log.Warn().Msg("stale completion for abandoned request")
			return
		}
		panic("scheme: executor completed twice")
	}

	if s.loop.IsMainThread() {
		s.finish(res)
		return
	}
	s.loop.Post(func() {
		s.finish(res)
	})
}

// finish fires the platform callback and signals completion. Runs on
// the loop, exactly once per request.
func (s *execState) finish(res *Response) {
	s.complete(res)
	close(s.done)
}

// abandon marks the executor stale so a late completion cannot fire
// the platform callback twice. Reports whether the executor was still
// pending.
func (s *execState) abandon() bool {
	return s.state.CompareAndSwap(statePending, stateAbandoned)
}

// dropped runs as the Executor finalizer. A handle collected while the
// request is still pending means no completion can ever arrive; the
// request is failed instead of hanging its waiters.
func (s *execState) dropped() {
	if !s.abandon() {
		return
	}
	s.log.Warn().Msg("executor dropped without completing")
	s.loop.Post(func() {
		s.finish(errorResponse(StatusNoResponse))
	})
}

type entry struct {
	resolver Resolver
	policy   LaunchPolicy
}

// Registry maps scheme names to resolvers. State is loop-confined.
type Registry struct {
	loop    *dispatch.Loop
	log     zerolog.Logger
	schemes map[string]entry
}

// NewRegistry creates a registry bound to loop.
func NewRegistry(loop *dispatch.Loop, log zerolog.Logger) *Registry {
	return &Registry{
		loop:    loop,
		log:     log.With().Str("component", "scheme").Logger(),
		schemes: make(map[string]entry),
	}
}

// Register installs resolver for scheme name with the given launch
// policy. Re-registering a name replaces its resolver.
func (r *Registry) Register(name string, resolver Resolver, policy LaunchPolicy) error {
	if name == "" {
		return errors.New("scheme: name cannot be empty")
	}
	if resolver == nil {
		return errors.New("scheme: resolver cannot be nil")
	}

	return r.loop.Invoke(func() error {
		r.schemes[name] = entry{resolver: resolver, policy: policy}
		r.log.Debug().Str("scheme", name).Msg("scheme registered")
		return nil
	})
}

// Unregister removes a scheme. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	_ = r.loop.Invoke(func() error {
		delete(r.schemes, name)
		return nil
	})
}

// Handle feeds one inbound request into the pipeline. complete is
// invoked exactly once with the response, on the main loop thread.
// Must be called from the main thread, as platform network callbacks
// are.
func (r *Registry) Handle(name string, req *Request, complete func(*Response)) {
	if !r.loop.IsMainThread() {
		_ = r.loop.Invoke(func() error {
			r.Handle(name, req, complete)
			return nil
		})
		return
	}

	ent, ok := r.schemes[name]
	if !ok {
		r.log.Warn().Str("scheme", name).Str("url", req.URL).Msg("request for unregistered scheme")
		complete(errorResponse(http.StatusNotFound))
		return
	}

	s := &execState{
		loop:     r.loop,
		complete: complete,
		done:     make(chan struct{}),
		log:      r.log.With().Str("scheme", name).Str("url", req.URL).Logger(),
	}
	ex := &Executor{s: s}
	runtime.SetFinalizer(ex, (*Executor).drop)

	r.log.Debug().Str("scheme", name).Str("url", req.URL).Str("method", req.Method).Msg("handling request")

	if err := runResolver(ent.resolver, req, ex); err != nil {
		r.log.Error().Err(err).Str("scheme", name).Msg("resolver panicked")
		if s.abandon() {
			s.finish(errorResponse(http.StatusInternalServerError))
		}
		return
	}

	if ent.policy == LaunchSync {
		r.waitSync(s)
	}
}

// drop is the finalizer target for executor handles.
func (e *Executor) drop() {
	e.s.dropped()
}

// waitSync blocks the platform thread pumping the main loop until the
// request's completion callback has run. Work posted from other
// threads keeps executing while the request waits, so a resolver that
// defers to a worker can still marshal its response back. A dropped
// executor fails the request with StatusNoResponse (see dropped),
// which also releases the wait.
func (r *Registry) waitSync(s *execState) {
	r.loop.PumpUntil(s.done)
}

// runResolver converts resolver panics into errors.
func runResolver(res Resolver, req *Request, ex *Executor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("resolver panic: %v", r)
		}
	}()
	res.Resolve(req, ex)
	return nil
}
