// Package postgres provides PostgreSQL implementations of the store
// interfaces defined in internal/store.
//
// Status transitions are guarded in SQL: each update names the statuses it
// may move from, so the single statement is the serialization point between
// the worker goroutine and cancel/delete calls arriving from request
// handlers. Standard row-level transaction semantics are sufficient; no
// additional locking is layered on top.
package postgres
