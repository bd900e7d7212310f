// Package store defines the persistence contract for tasks and their
// audit log, plus the shared error taxonomy and transaction helpers.
// The engine depends only on these interfaces; concrete database
// implementations live under internal/platform.
package store
