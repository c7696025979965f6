// Package api contains HTTP handlers for the task endpoints, the DTOs they
// exchange, and the mapping from service errors to HTTP status codes.
package api
