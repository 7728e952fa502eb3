// Package regfield provides helpers for working with named bit fields
// inside 32-bit and 64-bit device registers.
package regfield

// Field32 describes a contiguous bit field within a 32-bit register.
type Field32 struct {
	Shift uint8
	Bits  uint8
}

// F32 returns a Field32 starting at bit shift and covering bits bits.
func F32(shift, bits uint8) Field32 {
	return Field32{Shift: shift, Bits: bits}
}

// Mask returns the in-place mask of the field.
func (f Field32) Mask() uint32 {
	return ((uint32(1) << f.Bits) - 1) << f.Shift
}

// Get extracts the field value from reg.
func (f Field32) Get(reg uint32) uint32 {
	return (reg >> f.Shift) & ((uint32(1) << f.Bits) - 1)
}

// Insert returns reg with the field replaced by val. Bits of val above
// the field width are discarded.
func (f Field32) Insert(reg, val uint32) uint32 {
	return (reg &^ f.Mask()) | ((val << f.Shift) & f.Mask())
}

// Field64 describes a contiguous bit field within a 64-bit register.
type Field64 struct {
	Shift uint8
	Bits  uint8
}

// F64 returns a Field64 starting at bit shift and covering bits bits.
func F64(shift, bits uint8) Field64 {
	return Field64{Shift: shift, Bits: bits}
}

// Mask returns the in-place mask of the field.
func (f Field64) Mask() uint64 {
	return ((uint64(1) << f.Bits) - 1) << f.Shift
}

// Get extracts the field value from reg.
func (f Field64) Get(reg uint64) uint64 {
	return (reg >> f.Shift) & ((uint64(1) << f.Bits) - 1)
}

// Insert returns reg with the field replaced by val.
func (f Field64) Insert(reg, val uint64) uint64 {
	return (reg &^ f.Mask()) | ((val << f.Shift) & f.Mask())
}

// Bit32 returns a single-bit Field32 at the given position.
func Bit32(shift uint8) Field32 { return Field32{Shift: shift, Bits: 1} }

// Bit64 returns a single-bit Field64 at the given position.
func Bit64(shift uint8) Field64 { return Field64{Shift: shift, Bits: 1} }

// Extract64 pulls length bits starting at start out of value.
func Extract64(value uint64, start, length uint8) uint64 {
	return (value >> start) & ((uint64(1) << length) - 1)
}

// Deposit64 replaces length bits of value starting at start with the low
// bits of fieldval.
func Deposit64(value uint64, start, length uint8, fieldval uint64) uint64 {
	mask := ((uint64(1) << length) - 1) << start
	return (value &^ mask) | ((fieldval << start) & mask)
}
