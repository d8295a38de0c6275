// Package storage provides the durable backends behind the notification
// queue: a plain-file driver (atomic snapshot + JSONL audit trail) and a
// SQLite driver. Both expose the same opaque-snapshot Store API; callers
// own the snapshot encoding.
package storage
