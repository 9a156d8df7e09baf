// Package usart computes and programs the baud-rate divisor of the LPC11Uxx
// USART from the UART peripheral clock last applied to the clock tree.
//
// Design notes (user manual references):
// • baud = UART_PCLK / (16 × DL) with the fractional divider at its reset
//   value (DIVADDVAL=0, MULVAL=1).
// • DL is 16 bits split over DLL/DLM, reachable only while LCR.DLAB=1.
// • DL=0 is treated by the hardware as 1; it is never produced here.
package usart

import (
	"errors"
	"fmt"

	"lpc11u-hal/clocks"
	"lpc11u-hal/x/mathx"
)

var (
	ErrNoClock   = errors.New("usart: UART peripheral clock is not driven")
	ErrBaudRange = errors.New("usart: baud rate not reachable from UART clock")
)

// USART0 register block.
const (
	Base = 0x40008000

	RegDLL = 0x00 // DLAB=1
	RegDLM = 0x04 // DLAB=1
	RegLCR = 0x0C
	RegFDR = 0x28

	lcrDLAB  = 1 << 7
	fdrReset = 0x10 // MULVAL=1, DIVADDVAL=0
)

// MaxErrorPermille is the baud error above which Divisor refuses a rate.
const MaxErrorPermille = 30

// Divisor is a resolved baud-rate setting.
type Divisor struct {
	DL         uint16
	PClkHz     uint32
	Baud       uint32 // requested
	ActualBaud uint32
}

func (d Divisor) DLL() uint8 { return uint8(d.DL) }
func (d Divisor) DLM() uint8 { return uint8(d.DL >> 8) }

// ErrorPermille is |actual-requested| in thousandths of the requested rate.
func (d Divisor) ErrorPermille() uint32 {
	diff := d.ActualBaud - d.Baud
	if d.ActualBaud < d.Baud {
		diff = d.Baud - d.ActualBaud
	}
	return uint32(mathx.RoundDiv(uint64(diff)*1000, uint64(d.Baud)))
}

func (d Divisor) String() string {
	return fmt.Sprintf("DL=%d (%d baud, wanted %d)", d.DL, d.ActualBaud, d.Baud)
}

// ForBaud resolves the divisor for baud from the UART clock reported by r.
func ForBaud(r clocks.Reader, baud uint32) (Divisor, error) {
	khz, ok := r.KHz(clocks.NodeUSART)
	if !ok {
		return Divisor{}, ErrNoClock
	}
	if baud == 0 {
		return Divisor{}, fmt.Errorf("%w: baud 0", ErrBaudRange)
	}
	pclk := uint64(khz) * 1000
	dl := mathx.RoundDiv(pclk, 16*uint64(baud))
	if dl == 0 || dl > 0xFFFF {
		return Divisor{}, fmt.Errorf("%w: %d baud needs DL=%d at %d kHz", ErrBaudRange, baud, dl, khz)
	}
	d := Divisor{
		DL:         uint16(dl),
		PClkHz:     uint32(pclk),
		Baud:       baud,
		ActualBaud: uint32(mathx.RoundDiv(pclk, 16*dl)),
	}
	if e := d.ErrorPermille(); e > MaxErrorPermille {
		return Divisor{}, fmt.Errorf("%w: %s is %d‰ off", ErrBaudRange, d, e)
	}
	return d, nil
}

// Bus is 32-bit register access relative to Base.
type Bus interface {
	Read32(off uint32) (uint32, error)
	Write32(off uint32, v uint32) error
}

// Program writes d into the USART, leaving LCR as it found it apart from
// the divisor latch bit.
func Program(b Bus, d Divisor) error {
	lcr, err := b.Read32(RegLCR)
	if err != nil {
		return fmt.Errorf("usart: read LCR: %w", err)
	}
	steps := []struct {
		off uint32
		v   uint32
	}{
		{RegLCR, lcr | lcrDLAB},
		{RegDLL, uint32(d.DLL())},
		{RegDLM, uint32(d.DLM())},
		{RegFDR, fdrReset},
		{RegLCR, lcr &^ lcrDLAB},
	}
	for _, s := range steps {
		if err := b.Write32(s.off, s.v); err != nil {
			return fmt.Errorf("usart: write 0x%02X: %w", s.off, err)
		}
	}
	return nil
}
