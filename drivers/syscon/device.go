package syscon

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownField = errors.New("syscon: unknown field")
	ErrReadOnly     = errors.New("syscon: field is read-only")
	ErrFieldRange   = errors.New("syscon: value does not fit field")
)

// Bus is 32-bit register access relative to Base. Implementations: the
// volatile MCU bus (tinygo builds), mmio.Window and sim.Registers.
type Bus interface {
	Read32(off uint32) (uint32, error)
	Write32(off uint32, v uint32) error
}

// Device performs field-level access on a SYSCON block.
type Device struct {
	bus Bus
}

// New wraps a Bus. It does not touch the hardware.
func New(bus Bus) *Device { return &Device{bus: bus} }

// ReadField returns the current value of f.
func (d *Device) ReadField(f Field) (uint32, error) {
	if !f.Valid() {
		return 0, ErrUnknownField
	}
	r, err := d.bus.Read32(f.Reg())
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", f, err)
	}
	return f.Get(r), nil
}

// WriteField read-modify-writes f, leaving the rest of its register intact.
func (d *Device) WriteField(f Field, v uint32) error {
	if !f.Valid() {
		return ErrUnknownField
	}
	if f.ReadOnly() {
		return ErrReadOnly
	}
	if v > f.Max() {
		return fmt.Errorf("%s=%d: %w", f, v, ErrFieldRange)
	}
	r, err := d.bus.Read32(f.Reg())
	if err != nil {
		return fmt.Errorf("read %s: %w", f, err)
	}
	if err := d.bus.Write32(f.Reg(), f.Set(r, v)); err != nil {
		return fmt.Errorf("write %s: %w", f, err)
	}
	return nil
}

// RegValue is one register in a Dump.
type RegValue struct {
	Offset uint32
	Name   string
	Value  uint32
}

// Dump reads every clock register in address order.
func (d *Device) Dump() ([]RegValue, error) {
	offs := Registers()
	out := make([]RegValue, 0, len(offs))
	for _, off := range offs {
		v, err := d.bus.Read32(off)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", RegName(off), err)
		}
		out = append(out, RegValue{Offset: off, Name: RegName(off), Value: v})
	}
	return out, nil
}
