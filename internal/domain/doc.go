// Package domain contains the core entities of the task processing
// system: tasks, their status and priority, and the append-only audit
// log of status changes. It carries the validation rules for those
// entities and depends on nothing outside the standard library.
package domain
