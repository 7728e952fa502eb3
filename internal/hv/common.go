// Package hv defines the host-side interfaces the GIC emulation core sits
// on: guest physical memory access, memory-mapped device regions and the
// physical address-space layout.
package hv

import (
	"errors"
	"io"
)

// ErrBadConfig is wrapped by construction-time validation failures.
var ErrBadConfig = errors.New("invalid device configuration")

// GuestMemory provides access to guest physical memory. Offsets are guest
// physical addresses.
type GuestMemory interface {
	io.ReaderAt
	io.WriterAt
}

// MMIORegion describes a guest-physical memory-mapped region.
type MMIORegion struct {
	Address uint64
	Size    uint64
}

// Contains reports whether the access [addr, addr+len) falls entirely
// inside the region.
func (r MMIORegion) Contains(addr, length uint64) bool {
	end := addr + length
	if end < addr {
		return false
	}
	return addr >= r.Address && end <= r.Address+r.Size
}
