// Package postgres implements the task store on PostgreSQL. It maps
// rows to domain entities, translates driver errors into the store
// error taxonomy, and participates in caller-managed transactions via
// store.DBTX.
package postgres
