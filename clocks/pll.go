package clocks

import "lpc11u-hal/x/mathx"

// PLL limits from the user manual.
const (
	MaxM      = 32      // MSEL is a 5-bit field holding M-1
	CCOMinKHz = 156_000 // F_CCO lower bound
	CCOMaxKHz = 320_000 // F_CCO upper bound
)

// postDividers in search order; the smallest P keeps the CCO slowest.
var postDividers = [...]uint8{1, 2, 4, 8}

// PLLParams is a solved multiplier/post-divider pair.
type PLLParams struct {
	M uint8
	P uint8
}

// CCOKHz returns the CCO frequency for an output of outKHz.
func (p PLLParams) CCOKHz(outKHz uint32) uint64 { return ccoKHz(p.P, outKHz) }

func ccoKHz(p uint8, outKHz uint32) uint64 { return 2 * uint64(p) * uint64(outKHz) }

func ccoInBand(p uint8, outKHz uint32) bool {
	return mathx.Between(ccoKHz(p, outKHz), CCOMinKHz, CCOMaxKHz)
}

// pselOf returns the PSEL encoding (log2 P).
func pselOf(p uint8) (uint32, bool) {
	for i, v := range postDividers {
		if v == p {
			return uint32(i), true
		}
	}
	return 0, false
}

// Solve finds M and P such that inputKHz × M == targetKHz exactly and the CCO
// stays in band. The PLL only multiplies, so inputKHz > targetKHz fails; no
// frequency is ever approximated.
func Solve(inputKHz, targetKHz uint32) (PLLParams, bool) {
	if inputKHz == 0 || inputKHz > targetKHz {
		return PLLParams{}, false
	}
	m, exact := mathx.DivExact(targetKHz, inputKHz)
	if !exact || m == 0 || m > MaxM {
		return PLLParams{}, false
	}
	for _, p := range postDividers {
		if ccoInBand(p, targetKHz) {
			return PLLParams{M: uint8(m), P: p}, true
		}
	}
	return PLLParams{}, false
}

// SolveWithDivider extends Solve with an output divider D in [1, 255] for
// targets whose direct CCO would be out of band: the PLL runs at
// targetKHz × D and D divides it back down. The first D that works is
// returned.
func SolveWithDivider(inputKHz, targetKHz uint32) (PLLParams, uint8, bool) {
	if targetKHz == 0 {
		return PLLParams{}, 0, false
	}
	for d := uint32(1); d <= MaxDivider; d++ {
		scaled := uint64(targetKHz) * uint64(d)
		if scaled > 1<<32-1 {
			break
		}
		if p, ok := Solve(inputKHz, uint32(scaled)); ok {
			return p, uint8(d), true
		}
	}
	return PLLParams{}, 0, false
}
