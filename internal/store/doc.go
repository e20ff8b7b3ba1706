// Package store defines interfaces for persisting scalar runs and their
// points. Implementations live in other packages; this package must not
// import database drivers or concrete clients.
package store
