// Package store defines the persistence contract used by the sync engine and
// the SQL shared by its implementations. Concrete drivers live in the
// postgres and sqlite subpackages; this package must not import them.
package store
