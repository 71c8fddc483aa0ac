// Package backend exposes a store over HTTP so that workers on several
// machines coordinate skip blocks and collect rows in one place.
//
// Server wraps a *store.Store. Client talks to a Server and satisfies the
// same interfaces the engine uses for a local store, so a run is wired
// identically whether its backend is a file or a URL.
package backend
