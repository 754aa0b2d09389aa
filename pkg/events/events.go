// Package events implements typed, multi-listener event slots for
// webview and window owners.
//
// A slot holds an ordered list of listeners for one event kind.
// Registration, removal and firing are all confined to the owning
// loop's main thread, so listeners may touch native state directly and
// the slot itself needs no locking.
package events

import (
	"github.com/rs/zerolog"

	"github.com/bnema/tether/pkg/dispatch"
)

type listener[H any] struct {
	id   uint64
	fn   H
	once bool
}

// slot is the listener table shared by Slot and VetoSlot. All access
// happens on the loop thread.
type slot[H any] struct {
	loop      *dispatch.Loop
	nextID    uint64
	listeners []listener[H]
	log       zerolog.Logger
}

func (s *slot[H]) add(fn H, once bool) uint64 {
	id, err := dispatch.Dispatch(s.loop, func() (uint64, error) {
		s.nextID++
		s.listeners = append(s.listeners, listener[H]{id: s.nextID, fn: fn, once: once})
		return s.nextID, nil
	})
	if err != nil {
		s.log.Debug().Err(err).Msg("listener registration dropped")
		return 0
	}
	return id
}

func (s *slot[H]) remove(id uint64) {
	_ = s.loop.Invoke(func() error {
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				break
			}
		}
		return nil
	})
}

func (s *slot[H]) clear() {
	_ = s.loop.Invoke(func() error {
		s.listeners = nil
		return nil
	})
}

func (s *slot[H]) count() int {
	n, _ := dispatch.Dispatch(s.loop, func() (int, error) {
		return len(s.listeners), nil
	})
	return n
}

// snapshot returns the current listeners in registration order and
// removes the one-shot ones, guaranteeing a once listener is invoked
// at most one time even if firing re-enters.
func (s *slot[H]) snapshot() []listener[H] {
	fired := make([]listener[H], len(s.listeners))
	copy(fired, s.listeners)

	kept := s.listeners[:0]
	for _, l := range s.listeners {
		if !l.once {
			kept = append(kept, l)
		}
	}
	s.listeners = kept

	return fired
}

// Slot is an event slot whose listeners take one argument and return
// nothing.
type Slot[T any] struct {
	slot[func(T)]
}

// NewSlot creates a slot bound to loop.
func NewSlot[T any](loop *dispatch.Loop, log zerolog.Logger) *Slot[T] {
	return &Slot[T]{slot[func(T)]{loop: loop, log: log}}
}

// On registers a repeatable listener and returns its removal id.
// Listeners fire in registration order. Returns 0, which is never a
// valid id, when the owning loop has already terminated.
func (s *Slot[T]) On(fn func(T)) uint64 {
	return s.add(fn, false)
}

// Once registers a listener that is removed after its first
// invocation. Returns 0 when the owning loop has already terminated.
func (s *Slot[T]) Once(fn func(T)) uint64 {
	return s.add(fn, true)
}

// Off removes the listener registered under id. Unknown ids are
// ignored.
func (s *Slot[T]) Off(id uint64) {
	s.remove(id)
}

// Clear removes every listener.
func (s *Slot[T]) Clear() {
	s.clear()
}

// Len returns the number of registered listeners.
func (s *Slot[T]) Len() int {
	return s.count()
}

// Fire invokes all current listeners in registration order on the main
// loop. Firing with no listeners is a no-op.
func (s *Slot[T]) Fire(v T) {
	_ = s.loop.Invoke(func() error {
		for _, l := range s.snapshot() {
			l.fn(v)
		}
		return nil
	})
}

// VetoSlot is an event slot for vetoable lifecycle events ("should
// this window close"). Listeners return true to veto the default
// action.
type VetoSlot[T any] struct {
	slot[func(T) bool]
}

// NewVetoSlot creates a veto slot bound to loop.
func NewVetoSlot[T any](loop *dispatch.Loop, log zerolog.Logger) *VetoSlot[T] {
	return &VetoSlot[T]{slot[func(T) bool]{loop: loop, log: log}}
}

// On registers a repeatable listener and returns its removal id, or 0
// when the owning loop has already terminated.
func (s *VetoSlot[T]) On(fn func(T) bool) uint64 {
	return s.add(fn, false)
}

// Once registers a listener that is removed after its first
// invocation. Returns 0 when the owning loop has already terminated.
func (s *VetoSlot[T]) Once(fn func(T) bool) uint64 {
	return s.add(fn, true)
}

// Off removes the listener registered under id.
func (s *VetoSlot[T]) Off(id uint64) {
	s.remove(id)
}

// Clear removes every listener.
func (s *VetoSlot[T]) Clear() {
	s.clear()
}

// Len returns the number of registered listeners.
func (s *VetoSlot[T]) Len() int {
	return s.count()
}

// Fire invokes every listener in registration order and reports
// whether at least one vetoed. Every listener runs even after a veto;
// the result is the OR over all of them. No listeners means no veto.
func (s *VetoSlot[T]) Fire(v T) bool {
	vetoed, _ := dispatch.Dispatch(s.loop, func() (bool, error) {
		blocked := false
		for _, l := range s.snapshot() {
			if l.fn(v) {
				blocked = true
			}
		}
		return blocked, nil
	})
	return vetoed
}
