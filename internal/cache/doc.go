// Package cache defines the named response stores that back the app-shell
// proxy. A Storage owns any number of stores, each addressed by its version
// tag; a Store maps request identity (method + URL) to a captured HTTP
// response. Two backends are provided: a disk layout of one wire-format file
// per entry (temp file + rename), and a SQLite database. Responses are
// immutable and carry a one-shot body, so every consumer beyond the first must
// work on a Clone.
package cache
