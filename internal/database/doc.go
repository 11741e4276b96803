// Package database provides the PostgreSQL order store.
//
// Orders live in a single table with line items as JSONB. The store is the
// source of truth for order state; broker events are notifications about
// changes that have already been committed here.
package database
