package clocks

// Node identifies one clock in the tree.
type Node uint8

const (
	NodeIRC Node = iota
	NodeSysOsc
	NodeWDOsc
	NodeSysPLL
	NodeUSBPLL
	NodeMainClk
	NodeUSBClk
	NodeSSP0
	NodeSSP1
	NodeUSART

	NumNodes
)

var nodeNames = [NumNodes]string{
	NodeIRC:     "irc",
	NodeSysOsc:  "sysosc",
	NodeWDOsc:   "wdosc",
	NodeSysPLL:  "sys_pll",
	NodeUSBPLL:  "usb_pll",
	NodeMainClk: "mainclk",
	NodeUSBClk:  "usbclk",
	NodeSSP0:    "ssp0",
	NodeSSP1:    "ssp1",
	NodeUSART:   "usart",
}

func (n Node) String() string {
	if n >= NumNodes {
		return "unknown"
	}
	return nodeNames[n]
}

// ParseNode is the inverse of Node.String.
func ParseNode(s string) (Node, bool) {
	for n, name := range nodeNames {
		if name == s {
			return Node(n), true
		}
	}
	return 0, false
}

// Frequencies holds one kHz value per node; 0 means not driven.
type Frequencies [NumNodes]uint32

// KHz returns the frequency of n and whether it is driven.
func (f Frequencies) KHz(n Node) (uint32, bool) {
	if n >= NumNodes || f[n] == 0 {
		return 0, false
	}
	return f[n], true
}
