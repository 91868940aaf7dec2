// Package thread provides the in-memory store for ephemeral conversation
// threads.
//
// Threads are scoped to a tenant and expire a fixed TTL after creation;
// reads never extend the deadline. Expired entries are removed lazily on
// lookup and eagerly by the background Reaper. Nothing in this package
// touches durable storage: when a thread is gone, its history is gone.
//
// The Store owns all Thread mutation. Callers hold only (tenantID,
// threadID) references and go through the Store's API; Get returns copies
// so a caller can never reach into live store state.
package thread
