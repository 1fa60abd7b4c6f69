// Package dedup remembers dispatched transition IDs for a bounded time so a
// transition delivered twice produces a single set of dispatch tasks.
//
// Memory keeps the keys in process; Redis shares them between engine
// instances through SET NX with a TTL.
package dedup
