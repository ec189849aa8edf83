// Package layout answers questions about a core module's linear-memory image:
// which data segment covers an address, and how to carve space from the top
// of the shadow stack.
//
// Writes into the image are expressed as a Location naming a segment and an
// offset within it, never as a raw address.
package layout
