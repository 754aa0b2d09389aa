// Package bridge implements the bidirectional RPC layer between the
// embedding host and hosted content.
//
// Inbound wire strings are parsed by the serializer and either invoke
// a registered native function (answering with a result envelope) or
// resolve a pending outbound call. Outbound calls allocate a unique id
// from a per-bridge monotonic counter and park the caller on a future
// until the matching result arrives. All bridge state is confined to
// the main loop; callers on other threads are rerouted transparently.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/bnema/tether/pkg/dispatch"
	"github.com/bnema/tether/pkg/serializer"
)

var (
	// ErrBridgeClosed fails pending and new calls once the bridge is
	// torn down.
	ErrBridgeClosed = errors.New("bridge: closed")
)

// RemoteError is a failure reported by hosted content for a call.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "bridge: remote error: " + e.Message
}

// Transport delivers a script statement to hosted content. Backends
// implement it with their evaluate-JS primitive.
type Transport interface {
	DeliverScript(script string) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(script string) error

// DeliverScript calls f(script).
func (f TransportFunc) DeliverScript(script string) error {
	return f(script)
}

// Handler is a native function callable from hosted content.
type Handler interface {
	Handle(ctx context.Context, params []json.RawMessage) (any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, params []json.RawMessage) (any, error)

// Handle calls f(ctx, params).
func (f HandlerFunc) Handle(ctx context.Context, params []json.RawMessage) (any, error) {
	return f(ctx, params)
}

// Result is the outcome of an outbound call.
type Result struct {
	Value json.RawMessage
	Err   error
}

// Pending is the caller's handle on an outstanding call. It resolves
// exactly once: with the matching result, or with ErrBridgeClosed at
// teardown.
type Pending struct {
	ch chan Result
}

// Wait blocks until the call resolves or ctx is done.
func (p *Pending) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case res := <-p.ch:
		return res.Value, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done exposes resolution as a channel for select loops. The channel
// yields the result once and is never closed without one.
func (p *Pending) Done() <-chan Result {
	return p.ch
}

// Bridge owns the call-id space and the pending-promise table for one
// webview.
type Bridge struct {
	loop      *dispatch.Loop
	ser       serializer.Serializer
	transport Transport
	log       zerolog.Logger

	nextID    atomic.Uint64
	closeOnce sync.Once

	// Loop-confined state below. Only touched via dispatch.
	functions map[string]Handler
	pending   map[uint64]*Pending
	closed    bool
}

// New creates a bridge delivering outbound envelopes through
// transport.
func New(loop *dispatch.Loop, ser serializer.Serializer, transport Transport, log zerolog.Logger) *Bridge {
	return &Bridge{
		loop:      loop,
		ser:       ser,
		transport: transport,
		log:       log.With().Str("component", "bridge").Logger(),
		functions: make(map[string]Handler),
		pending:   make(map[uint64]*Pending),
	}
}

// Register makes handler callable from hosted content under name.
func (b *Bridge) Register(name string, handler Handler) error {
	if name == "" {
		return errors.New("bridge: function name cannot be empty")
	}
	if handler == nil {
		return errors.New("bridge: handler cannot be nil")
	}

	return b.loop.Invoke(func() error {
		if b.closed {
			return ErrBridgeClosed
		}
		b.functions[name] = handler
		return nil
	})
}

// Unregister removes a native function. Unknown names are ignored.
func (b *Bridge) Unregister(name string) {
	_ = b.loop.Invoke(func() error {
		delete(b.functions, name)
		return nil
	})
}

// Call invokes a function inside hosted content and returns a handle
// on its eventual result. Safe to call from any thread.
func (b *Bridge) Call(name string, params ...json.RawMessage) (*Pending, error) {
	id := b.nextID.Add(1)

	wire, err := b.ser.SerializeCall(id, name, params)
	if err != nil {
		return nil, err
	}
	script, err := b.ser.DeliverScript(wire)
	if err != nil {
		return nil, err
	}

	p := &Pending{ch: make(chan Result, 1)}

	err = b.loop.Invoke(func() error {
		if b.closed {
			return ErrBridgeClosed
		}

		b.pending[id] = p

		if err := b.transport.DeliverScript(script); err != nil {
			delete(b.pending, id)
			return fmt.Errorf("deliver call %q: %w", name, err)
		}

		b.log.Debug().Uint64("id", id).Str("name", name).Msg("call sent")
		return nil
	})
	if err != nil {
		if errors.Is(err, dispatch.ErrLoopTerminated) {
			err = ErrBridgeClosed
		}
		return nil, err
	}

	return p, nil
}

// Receive feeds one raw wire string from hosted content into the
// bridge. Unrecognized input is ignored; this channel is shared with
// foreign traffic and partial messages are expected.
func (b *Bridge) Receive(wire string) {
	_ = b.loop.Invoke(func() error {
		if b.closed {
			return nil
		}

		switch msg := b.ser.Parse(wire).(type) {
		case *serializer.FunctionCall:
			b.invoke(msg)
		case *serializer.CallResult:
			b.resolve(msg)
		default:
			b.log.Debug().Int("len", len(wire)).Msg("unrecognized message ignored")
		}
		return nil
	})
}

// invoke runs a native function asynchronously and always answers with
// a result envelope carrying the call's id. Runs on the loop.
func (b *Bridge) invoke(call *serializer.FunctionCall) {
	handler, ok := b.functions[call.Name]
	if !ok {
		b.log.Warn().Str("name", call.Name).Uint64("id", call.ID).Msg("call to unregistered function")
		b.deliverResult(call.ID, nil, fmt.Errorf("unknown function: %s", call.Name))
		return
	}

	ctx := b.log.WithContext(context.Background())

	// The function may be long-running; never block the loop on it.
	go func() {
		value, err := runHandler(ctx, handler, call.Params)

		var raw json.RawMessage
		if err == nil {
			raw, err = json.Marshal(value)
		}

		b.loop.Post(func() {
			if b.closed {
				return
			}
			b.deliverResult(call.ID, raw, err)
		})
	}()
}

// runHandler converts handler panics into errors so a misbehaving
// native function still answers instead of unwinding into the caller.
func runHandler(ctx context.Context, h Handler, params []json.RawMessage) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, params)
}

// deliverResult serializes and sends a result envelope. Runs on the
// loop.
func (b *Bridge) deliverResult(id uint64, value json.RawMessage, callErr error) {
	wire, err := b.ser.SerializeResult(id, value, callErr)
	if err != nil {
		b.log.Error().Err(err).Uint64("id", id).Msg("failed to serialize result")
		return
	}

	script, err := b.ser.DeliverScript(wire)
	if err != nil {
		b.log.Error().Err(err).Uint64("id", id).Msg("failed to wrap result")
		return
	}

	if err := b.transport.DeliverScript(script); err != nil {
		b.log.Warn().Err(err).Uint64("id", id).Msg("failed to deliver result")
	}
}

// resolve answers the pending call matching the result's id. Stale or
// already-resolved ids are discarded. Runs on the loop.
func (b *Bridge) resolve(res *serializer.CallResult) {
	p, ok := b.pending[res.ID]
	if !ok {
		b.log.Debug().Uint64("id", res.ID).Msg("result with no pending call discarded")
		return
	}
	delete(b.pending, res.ID)

	if res.Error != "" {
		p.ch <- Result{Err: &RemoteError{Message: res.Error}}
		return
	}
	p.ch <- Result{Value: res.Result}
}

// PendingCalls returns the number of outstanding calls.
func (b *Bridge) PendingCalls() int {
	n, _ := dispatch.Dispatch(b.loop, func() (int, error) {
		return len(b.pending), nil
	})
	return n
}

// Close tears the bridge down, failing every outstanding call with
// ErrBridgeClosed. Waiters are failed, never left hanging. Safe to
// call from multiple threads, more than once; later callers block
// until the first teardown finishes.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		err := b.loop.Invoke(func() error {
			b.closeLocked()
			return nil
		})

		// With the loop already gone nothing else can touch bridge
		// state, so pending waiters are failed directly instead of
		// being leaked.
		if errors.Is(err, dispatch.ErrLoopTerminated) {
			b.closeLocked()
		}
	})
}

// closeLocked runs on the loop, or after the loop has terminated.
func (b *Bridge) closeLocked() {
	if b.closed {
		return
	}
	b.closed = true

	for id, p := range b.pending {
		delete(b.pending, id)
		p.ch <- Result{Err: ErrBridgeClosed}
	}
	b.functions = make(map[string]Handler)

	b.log.Debug().Msg("bridge closed")
}
