// Package core provides the fundamental types and interfaces for the jobs package.
//
// This package contains:
//   - JobItem, JobRequest and JobHistory data models with GORM annotations
//   - Store interface defining the persistence contract
//   - Lifecycle event payloads published on the event bus
//   - Error types for scheduling, storage and watchdog failures
//
// Most users should import the root package github.com/jdziat/serial-jobs
// instead of this package directly.
package core
