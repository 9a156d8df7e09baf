// Package mmio maps a SYSCON register window into the process with mmap.
//
// The LPC11Uxx is a Cortex-M0 and never runs Linux itself, so the usual
// source is a register-image file on the host, which is how the tests use
// it. /dev/mem (clockplan apply --mem) only applies where a Linux host
// exposes an LPC11U-compatible SYSCON window at syscon.Base, such as an FPGA
// model of the block or a debug bridge that maps target memory.
package mmio

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"unsafe"

	mmap "github.com/edsrzf/mmap-go"

	"lpc11u-hal/drivers/syscon"
)

// DevMem is the physical memory device.
const DevMem = "/dev/mem"

var (
	ErrUnaligned  = errors.New("mmio: unaligned register offset")
	ErrOutOfRange = errors.New("mmio: register offset outside window")
	ErrClosed     = errors.New("mmio: window closed")
)

// Window is a mapped register window. It implements syscon.Bus.
type Window struct {
	mm   mmap.MMap
	offs uintptr // offset of the requested base inside mm
	size int
	log  *log.Logger
}

var _ syscon.Bus = (*Window)(nil)

// Open maps size bytes at physAddr from path. The mapping starts at a page
// boundary, so the physical address is rounded down and the returned window
// hides the difference.
func Open(path string, physAddr int64, size int, logger *log.Logger) (*Window, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("couldn't open %s: %w", path, err)
	}
	defer f.Close()

	page := int64(os.Getpagesize())
	mapAddr := physAddr &^ (page - 1)
	span := size + int(physAddr-mapAddr)
	if logger != nil {
		logger.Printf("MapRegion(%s, %d, RDWR, 0, %08X), physAddr %08X", path, span, mapAddr, physAddr)
	}
	mm, err := mmap.MapRegion(f, span, mmap.RDWR, 0, mapAddr)
	if err != nil {
		return nil, fmt.Errorf("couldn't map region (%08X, %d): %w", physAddr, size, err)
	}
	return &Window{mm: mm, offs: uintptr(physAddr - mapAddr), size: size, log: logger}, nil
}

// OpenSYSCON maps the SYSCON block from /dev/mem. It needs a Linux host that
// exposes an LPC11U-compatible window at syscon.Base; see the package doc.
func OpenSYSCON(logger *log.Logger) (*Window, error) {
	return Open(DevMem, syscon.Base, syscon.Size, logger)
}

func (w *Window) reg(off uint32) (*uint32, error) {
	if w.mm == nil {
		return nil, ErrClosed
	}
	if off%4 != 0 {
		return nil, ErrUnaligned
	}
	if int(off)+4 > w.size {
		return nil, ErrOutOfRange
	}
	return (*uint32)(unsafe.Pointer(&w.mm[w.offs+uintptr(off)])), nil
}

// Read32 performs a single 32-bit load.
func (w *Window) Read32(off uint32) (uint32, error) {
	p, err := w.reg(off)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32(p), nil
}

// Write32 performs a single 32-bit store.
func (w *Window) Write32(off uint32, v uint32) error {
	p, err := w.reg(off)
	if err != nil {
		return err
	}
	atomic.StoreUint32(p, v)
	return nil
}

// Flush writes a file-backed window back to its file.
func (w *Window) Flush() error {
	if w.mm == nil {
		return ErrClosed
	}
	return w.mm.Flush()
}

// Close unmaps the window.
func (w *Window) Close() error {
	if w.mm == nil {
		return nil
	}
	err := w.mm.Unmap()
	w.mm = nil
	return err
}
