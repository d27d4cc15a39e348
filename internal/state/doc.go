// Package state implements a persisted, observable state container.
//
// A State[T] owns one logical value for one key. It is readable immediately
// after construction, hydrates from a durable store in the background, and
// publishes committed writes to other containers sharing the key over a
// broadcast channel.
//
// # Lifecycle
//
//	Uninitialized -> Hydrating -> Initialized
//
// Hydration runs once per construction and always settles, on success or
// failure. Ready blocks until it has.
//
// # Consistency
//
//   - Reads never block and never fail; they return whatever is in memory.
//   - Writes commit to memory synchronously, notify listeners synchronously,
//     and persist in the background. Persistence failures never roll memory back.
//   - A write that lands while hydration is in flight wins over the stored value.
//   - Last writer wins in memory, whether the write is local or a received broadcast.
//   - The initial value is written through only while memory is untouched. A
//     peer that stores its value after that check but before the write-through
//     lands is overwritten in the store, not in this container's memory.
//
// # Failures
//
// Store, decode and channel failures are never returned to callers of the
// container. They are sent to the Env's Reporter with the key and operation.
//
// # Nested mutation
//
// When the value is plain data (map[string]any or []any), Node returns a
// wrapper whose writes notify and persist the root value. Other types pass
// through: mutating them in place is invisible to persistence. A node taken
// before the root or one of its ancestors was replaced is detached and
// refuses writes.
package state
