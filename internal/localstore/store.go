// Package localstore provides the durable key/value store that mirrors
// browser-local storage for the CLI: opaque string values under fixed keys.
package localstore

import "errors"

// Keys written by the session core.
const (
	KeyCurrentUser = "currentUser"
	KeyTheme       = "theme"
)

// Keys written by the CLI to prefill the next login.
const (
	KeyLastLoginMethod = "lastLoginMethod"
	KeyLastLoginEmail  = "lastLoginEmail"
)

// ErrNotFound is returned by Get when the key has no value
var ErrNotFound = errors.New("local entry not found")

// Store is a durable string key/value store
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}
