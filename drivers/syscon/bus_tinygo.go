//go:build tinygo && lpc11u

package syscon

import (
	"runtime/volatile"
	"unsafe"
)

type mcuBus struct{}

func (mcuBus) reg(off uint32) *volatile.Register32 {
	return (*volatile.Register32)(unsafe.Pointer(uintptr(Base + off)))
}

func (b mcuBus) Read32(off uint32) (uint32, error) { return b.reg(off).Get(), nil }

func (b mcuBus) Write32(off uint32, v uint32) error {
	b.reg(off).Set(v)
	return nil
}

// MCU returns the on-chip SYSCON block.
func MCU() *Device { return New(mcuBus{}) }
