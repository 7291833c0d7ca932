// Package callback owns the tag-indexed listener registry and the
// adapters that turn plain functions into message handlers.
package callback
