// Package utils provides panic recovery helpers shared by the write path, the
// commit hooks and the index synchronizer workers.
//
// A recovered panic becomes a *PanicError carrying the stack trace, so it can
// flow through ordinary error returns and be logged once at the boundary.
package utils
