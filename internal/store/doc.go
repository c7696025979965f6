// Package store defines persistence interfaces and common storage errors.
//
// The interfaces in this package abstract the storage backend so services can
// be tested against in-memory fakes while the application runs against
// PostgreSQL (see internal/platform/postgres).
package store
