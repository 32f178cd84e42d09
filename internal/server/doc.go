// Package server hosts the Fiber HTTP service that plays the browser's role:
// every proxied request becomes a fetch event for the worker, and the action
// the worker returns (passthrough or respond-with) is executed here. The
// package also owns the request-id middleware and the shared plumbing that
// diagnostics routes under /-/ are mounted on.
package server
