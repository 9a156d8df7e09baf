// Package syscon provides the register map and field-level access for the
// system-control block of LPC11Uxx parts: oscillator control, the two PLLs,
// clock multiplexers, clock dividers and the power-down configuration.
package syscon

// Base is the physical address of the SYSCON block.
const Base = 0x40048000

// Size of the mapped SYSCON window in bytes.
const Size = 0x400

// Register offsets from Base.
const (
	RegSysPLLCtrl   = 0x008 // R/W  MSEL[4:0], PSEL[6:5]
	RegSysPLLStat   = 0x00C // R    LOCK[0]
	RegUSBPLLCtrl   = 0x010 // R/W  MSEL[4:0], PSEL[6:5]
	RegUSBPLLStat   = 0x014 // R    LOCK[0]
	RegSysOscCtrl   = 0x020 // R/W  BYPASS[0], FREQRANGE[1]
	RegWDTOscCtrl   = 0x024 // R/W  DIVSEL[4:0], FREQSEL[8:5]
	RegSysPLLClkSel = 0x040 // R/W  0 IRC, 1 crystal
	RegSysPLLClkUEN = 0x044 // R/W  latch on 0->1
	RegUSBPLLClkSel = 0x048 // R/W  0 IRC, 1 crystal
	RegUSBPLLClkUEN = 0x04C // R/W  latch on 0->1
	RegMainClkSel   = 0x070 // R/W  0 IRC, 1 PLL input, 2 WDT osc, 3 PLL output
	RegMainClkUEN   = 0x074 // R/W  latch on 0->1
	RegSysAHBClkDiv = 0x078 // R/W  0 halts the core
	RegSSP0ClkDiv   = 0x094 // R/W  0 disables
	RegUARTClkDiv   = 0x098 // R/W  0 disables
	RegSSP1ClkDiv   = 0x09C // R/W  0 disables
	RegUSBClkSel    = 0x0C0 // R/W  0 USB PLL out, 1 main clock
	RegUSBClkUEN    = 0x0C4 // R/W  latch on 0->1
	RegUSBClkDiv    = 0x0C8 // R/W  0 disables
	RegPDRunCfg     = 0x238 // R/W  1 = powered down
)

// Multiplexer encodings.
const (
	PLLClkSelIRC    = 0
	PLLClkSelSysOsc = 1

	MainClkSelIRC    = 0
	MainClkSelPLLIn  = 1
	MainClkSelWDTOsc = 2
	MainClkSelPLLOut = 3

	USBClkSelUSBPLL  = 0
	USBClkSelMainClk = 1
)

// FREQRANGE=1 above this crystal frequency.
const sysOscHighRangeKHz = 15_000

// PDRUNCFG bit positions.
const (
	pdIRCOut = 0
	pdIRC    = 1
	pdSysOsc = 5
	pdWDTOsc = 6
	pdSysPLL = 7
	pdUSBPLL = 8
)

// Reset values that differ from zero.
const (
	ResetPDRunCfg     = 0xEDF0
	ResetSysAHBClkDiv = 0x01
	ResetUSBClkDiv    = 0x01
)

// FreqRangeFor returns the FREQRANGE bit for a crystal frequency in kHz.
func FreqRangeFor(khz uint32) uint32 {
	if khz > sysOscHighRangeKHz {
		return 1
	}
	return 0
}

var regNames = map[uint32]string{
	RegSysPLLCtrl:   "SYSPLLCTRL",
	RegSysPLLStat:   "SYSPLLSTAT",
	RegUSBPLLCtrl:   "USBPLLCTRL",
	RegUSBPLLStat:   "USBPLLSTAT",
	RegSysOscCtrl:   "SYSOSCCTRL",
	RegWDTOscCtrl:   "WDTOSCCTRL",
	RegSysPLLClkSel: "SYSPLLCLKSEL",
	RegSysPLLClkUEN: "SYSPLLCLKUEN",
	RegUSBPLLClkSel: "USBPLLCLKSEL",
	RegUSBPLLClkUEN: "USBPLLCLKUEN",
	RegMainClkSel:   "MAINCLKSEL",
	RegMainClkUEN:   "MAINCLKUEN",
	RegSysAHBClkDiv: "SYSAHBCLKDIV",
	RegSSP0ClkDiv:   "SSP0CLKDIV",
	RegUARTClkDiv:   "UARTCLKDIV",
	RegSSP1ClkDiv:   "SSP1CLKDIV",
	RegUSBClkSel:    "USBCLKSEL",
	RegUSBClkUEN:    "USBCLKUEN",
	RegUSBClkDiv:    "USBCLKDIV",
	RegPDRunCfg:     "PDRUNCFG",
}

// RegName returns the datasheet name of a register offset, or "" if unknown.
func RegName(off uint32) string { return regNames[off] }

// Registers lists every register offset in address order.
func Registers() []uint32 {
	return []uint32{
		RegSysPLLCtrl, RegSysPLLStat, RegUSBPLLCtrl, RegUSBPLLStat,
		RegSysOscCtrl, RegWDTOscCtrl,
		RegSysPLLClkSel, RegSysPLLClkUEN, RegUSBPLLClkSel, RegUSBPLLClkUEN,
		RegMainClkSel, RegMainClkUEN, RegSysAHBClkDiv,
		RegSSP0ClkDiv, RegUARTClkDiv, RegSSP1ClkDiv,
		RegUSBClkSel, RegUSBClkUEN, RegUSBClkDiv,
		RegPDRunCfg,
	}
}

// WDTOscAnalogKHz maps WDTOSCCTRL.FREQSEL to the watchdog oscillator's analog
// rate in kHz. Index 0 is reserved.
var WDTOscAnalogKHz = [16]uint32{
	0, 600, 1050, 1400, 1750, 2100, 2400, 2700,
	3000, 3250, 3500, 3750, 4000, 4200, 4400, 4600,
}

// IRCKHz is the internal RC oscillator rate.
const IRCKHz = 12_000
