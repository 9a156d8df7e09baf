package syscon

// Field names one bit-field of one SYSCON register. The clock sequencer only
// ever addresses hardware through these names.
type Field uint8

const (
	SysPLLMSel Field = iota
	SysPLLPSel
	SysPLLLock
	USBPLLMSel
	USBPLLPSel
	USBPLLLock
	SysOscBypass
	SysOscFreqRange
	WDTOscDivSel
	WDTOscFreqSel
	SysPLLClkSel
	SysPLLClkUEN
	USBPLLClkSel
	USBPLLClkUEN
	MainClkSel
	MainClkUEN
	SysAHBClkDiv
	SSP0ClkDiv
	UARTClkDiv
	SSP1ClkDiv
	USBClkSel
	USBClkUEN
	USBClkDiv
	IRCOutPD
	IRCPD
	SysOscPD
	WDTOscPD
	SysPLLPD
	USBPLLPD

	numFields
)

type fieldDef struct {
	name     string
	reg      uint32
	shift    uint8
	width    uint8
	readOnly bool
}

var fields = [numFields]fieldDef{
	SysPLLMSel:      {"SYSPLLCTRL.MSEL", RegSysPLLCtrl, 0, 5, false},
	SysPLLPSel:      {"SYSPLLCTRL.PSEL", RegSysPLLCtrl, 5, 2, false},
	SysPLLLock:      {"SYSPLLSTAT.LOCK", RegSysPLLStat, 0, 1, true},
	USBPLLMSel:      {"USBPLLCTRL.MSEL", RegUSBPLLCtrl, 0, 5, false},
	USBPLLPSel:      {"USBPLLCTRL.PSEL", RegUSBPLLCtrl, 5, 2, false},
	USBPLLLock:      {"USBPLLSTAT.LOCK", RegUSBPLLStat, 0, 1, true},
	SysOscBypass:    {"SYSOSCCTRL.BYPASS", RegSysOscCtrl, 0, 1, false},
	SysOscFreqRange: {"SYSOSCCTRL.FREQRANGE", RegSysOscCtrl, 1, 1, false},
	WDTOscDivSel:    {"WDTOSCCTRL.DIVSEL", RegWDTOscCtrl, 0, 5, false},
	WDTOscFreqSel:   {"WDTOSCCTRL.FREQSEL", RegWDTOscCtrl, 5, 4, false},
	SysPLLClkSel:    {"SYSPLLCLKSEL.SEL", RegSysPLLClkSel, 0, 2, false},
	SysPLLClkUEN:    {"SYSPLLCLKUEN.ENA", RegSysPLLClkUEN, 0, 1, false},
	USBPLLClkSel:    {"USBPLLCLKSEL.SEL", RegUSBPLLClkSel, 0, 2, false},
	USBPLLClkUEN:    {"USBPLLCLKUEN.ENA", RegUSBPLLClkUEN, 0, 1, false},
	MainClkSel:      {"MAINCLKSEL.SEL", RegMainClkSel, 0, 2, false},
	MainClkUEN:      {"MAINCLKUEN.ENA", RegMainClkUEN, 0, 1, false},
	SysAHBClkDiv:    {"SYSAHBCLKDIV.DIV", RegSysAHBClkDiv, 0, 8, false},
	SSP0ClkDiv:      {"SSP0CLKDIV.DIV", RegSSP0ClkDiv, 0, 8, false},
	UARTClkDiv:      {"UARTCLKDIV.DIV", RegUARTClkDiv, 0, 8, false},
	SSP1ClkDiv:      {"SSP1CLKDIV.DIV", RegSSP1ClkDiv, 0, 8, false},
	USBClkSel:       {"USBCLKSEL.SEL", RegUSBClkSel, 0, 2, false},
	USBClkUEN:       {"USBCLKUEN.ENA", RegUSBClkUEN, 0, 1, false},
	USBClkDiv:       {"USBCLKDIV.DIV", RegUSBClkDiv, 0, 8, false},
	IRCOutPD:        {"PDRUNCFG.IRCOUT_PD", RegPDRunCfg, pdIRCOut, 1, false},
	IRCPD:           {"PDRUNCFG.IRC_PD", RegPDRunCfg, pdIRC, 1, false},
	SysOscPD:        {"PDRUNCFG.SYSOSC_PD", RegPDRunCfg, pdSysOsc, 1, false},
	WDTOscPD:        {"PDRUNCFG.WDTOSC_PD", RegPDRunCfg, pdWDTOsc, 1, false},
	SysPLLPD:        {"PDRUNCFG.SYSPLL_PD", RegPDRunCfg, pdSysPLL, 1, false},
	USBPLLPD:        {"PDRUNCFG.USBPLL_PD", RegPDRunCfg, pdUSBPLL, 1, false},
}

// Valid reports whether f names a known field.
func (f Field) Valid() bool { return f < numFields }

func (f Field) String() string {
	if !f.Valid() {
		return "FIELD(?)"
	}
	return fields[f].name
}

// Reg returns the register offset holding f.
func (f Field) Reg() uint32 { return fields[f].reg }

// Mask returns the in-register mask of f.
func (f Field) Mask() uint32 {
	d := fields[f]
	return (uint32(1)<<d.width - 1) << d.shift
}

// Max returns the largest value f can hold.
func (f Field) Max() uint32 { return uint32(1)<<fields[f].width - 1 }

// ReadOnly reports whether f is a status field.
func (f Field) ReadOnly() bool { return fields[f].readOnly }

// Get extracts f from a full register value.
func (f Field) Get(reg uint32) uint32 {
	return (reg & f.Mask()) >> fields[f].shift
}

// Set returns reg with f replaced by v. v is truncated to the field width.
func (f Field) Set(reg, v uint32) uint32 {
	return reg&^f.Mask() | (v<<fields[f].shift)&f.Mask()
}
