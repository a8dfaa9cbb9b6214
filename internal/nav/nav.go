// Package nav models client-side navigation: the fixed routes the session
// core sends users to and an in-memory router that tracks where they are.
package nav

import (
	"net/url"
	"sync"
)

// Routes are the fixed locations the session core navigates to
type Routes struct {
	Home     string
	Login    string
	Callback string
}

// DefaultRoutes returns the portal's standard routes
func DefaultRoutes() Routes {
	return Routes{
		Home:     "/",
		Login:    "/login",
		Callback: "/auth/callback",
	}
}

// Navigator is the routing capability the session core needs
type Navigator interface {
	// Location returns the current location (path plus optional query)
	Location() string
	// Navigate moves to location; replace overwrites the current history
	// entry instead of pushing a new one.
	Navigate(location string, replace bool)
}

// Path strips query and fragment from a location
func Path(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return location
	}
	return u.Path
}

// IsAt reports whether location points at route, ignoring query and fragment
func IsAt(location, route string) bool {
	return Path(location) == Path(route)
}

// Router is an in-memory history stack
type Router struct {
	mu      sync.Mutex
	history []string
	onMove  func(location string, replace bool)
}

// NewRouter creates a router positioned at start
func NewRouter(start string) *Router {
	return &Router{history: []string{start}}
}

// OnNavigate registers a hook called after every navigation
func (r *Router) OnNavigate(fn func(location string, replace bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onMove = fn
}

func (r *Router) Location() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history[len(r.history)-1]
}

func (r *Router) Navigate(location string, replace bool) {
	r.mu.Lock()
	if replace {
		r.history[len(r.history)-1] = location
	} else {
		r.history = append(r.history, location)
	}
	hook := r.onMove
	r.mu.Unlock()

	if hook != nil {
		hook(location, replace)
	}
}

// Back pops the current entry and returns the new location. At the first
// entry it stays put.
func (r *Router) Back() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) > 1 {
		r.history = r.history[:len(r.history)-1]
	}
	return r.history[len(r.history)-1]
}

// History returns a copy of the history stack, oldest first
func (r *Router) History() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.history...)
}
