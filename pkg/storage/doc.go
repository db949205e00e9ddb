// Package storage provides the GORM-backed job store.
//
// GormStorage implements core.Store. Every call runs as a unit of work
// through a uow.Runner, so deadlocks and lock wait timeouts are retried
// with the whole unit rolled back in between. SQLite is the default
// backend; MySQL is supported for multi-process deployments.
package storage
