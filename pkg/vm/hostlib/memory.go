// Package hostlib implements the host side of the contract ABI. Every
// function charges gas before doing any work, operates on guest linear
// memory through the Memory interface and records state mutations as
// intents instead of writing through. The package is backend-agnostic:
// the execution engines adapt these functions to their own host-call
// mechanisms, so both engines share one behavior.
package hostlib

// Memory is the guest's linear memory as seen by host calls. Backends
// wrap their engine's memory object behind it.
type Memory interface {
	// Read returns a view of n bytes at off, or false when the range
	// falls outside the current memory size.
	Read(off, n uint32) ([]byte, bool)

	// Write copies data to off, or returns false when the range falls
	// outside the current memory size.
	Write(off uint32, data []byte) bool

	// PageCount returns the current size in 64KiB pages.
	PageCount() uint32

	// GrowPages grows memory by delta pages, returning the previous page
	// count, or false if the engine refuses the growth.
	GrowPages(delta uint32) (uint32, bool)
}
