// Package typedispatch implements single-dispatch generic functions for Go.
// A value is routed to the most specific handler registered for its runtime
// type, walking embedded ancestors and structural capabilities.
package typedispatch
