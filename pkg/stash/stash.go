// Package stash provides an immutable, ownership-polymorphic byte
// buffer used for request/response payloads.
//
// A Stash either owns its data, views data owned elsewhere, or wraps a
// deferred computation that produces another Stash on first read.
// Whatever the variant, Data and Size are always defined; an empty
// Stash has size 0.
package stash

import "sync"

// Stash is an immutable byte sequence. The zero value is an empty
// stash. Copying a Stash is cheap: owned and viewed data are shared by
// reference and a lazy computation is shared by all copies, running at
// most once.
type Stash struct {
	data []byte
	lazy *lazyCell
}

// lazyCell is a shared once-cell. The first reader runs the populator;
// concurrent readers block on the same Once and observe the memoized
// result. The populator reference is dropped after the run so whatever
// it captured can be collected.
type lazyCell struct {
	once     sync.Once
	populate func() Stash
	result   Stash
}

func (c *lazyCell) get() Stash {
	c.once.Do(func() {
		c.result = c.populate()
		c.populate = nil
	})
	return c.result
}

// From creates an owning stash. The slice is taken over by the stash
// and must not be mutated by the caller afterwards.
func From(data []byte) Stash {
	return Stash{data: data}
}

// View creates a non-owning stash referencing memory owned elsewhere.
// The caller guarantees the referent outlives every copy of the stash.
func View(data []byte) Stash {
	return Stash{data: data}
}

// Lazy creates a stash whose content is produced by populate on first
// read. The populator runs at most once across all copies; later reads
// hit the memoized result.
func Lazy(populate func() Stash) Stash {
	return Stash{lazy: &lazyCell{populate: populate}}
}

// Empty returns an empty stash.
func Empty() Stash {
	return Stash{}
}

// Data returns the underlying bytes. Reading a lazy stash forces its
// computation. The returned slice must not be mutated.
func (s Stash) Data() []byte {
	if s.lazy != nil {
		return s.lazy.get().Data()
	}
	return s.data
}

// Size returns the number of bytes. Reading a lazy stash forces its
// computation.
func (s Stash) Size() int {
	if s.lazy != nil {
		return s.lazy.get().Size()
	}
	return len(s.data)
}

// Copy returns an owning stash holding a private copy of the content.
// Use it to retain payloads beyond the lifetime of borrowed memory,
// e.g. request bodies owned by a platform callback.
func (s Stash) Copy() Stash {
	data := s.Data()
	if len(data) == 0 {
		return Stash{}
	}

	dup := make([]byte, len(data))
	copy(dup, data)
	return Stash{data: dup}
}
