package ledger

import (
	"math/bits"
	"strings"
)

// Mask is a set of named ledger signals. It is only treated as a plain
// integer when it leaves the process (API responses, journal rows).
type Mask uint32

// ReservedBits is the number of low bits owned by the upstream program
// classifier. Ledger signals never use them.
const ReservedBits = 6

const (
	AccountCreated Mask = 1 << (ReservedBits + iota)
	ATACreated
	SameAuthority
	ProgramInit
	SlotDense
	LPStructure
	CleanFunding
	SlotAligned
	CreatorExposed
	AltMintCreated
)

var maskNames = []struct {
	bit  Mask
	name string
}{
	{AccountCreated, "AccountCreated"},
	{ATACreated, "ATACreated"},
	{SameAuthority, "SameAuthority"},
	{ProgramInit, "ProgramInit"},
	{SlotDense, "SlotDense"},
	{LPStructure, "LPStructure"},
	{CleanFunding, "CleanFunding"},
	{SlotAligned, "SlotAligned"},
	{CreatorExposed, "CreatorExposed"},
	{AltMintCreated, "AltMintCreated"},
}

// Has reports whether every bit of f is set in m.
func (m Mask) Has(f Mask) bool { return f != 0 && m&f == f }

// Count returns the number of set bits.
func (m Mask) Count() int { return bits.OnesCount32(uint32(m)) }

// Int returns the serialized form.
func (m Mask) Int() int { return int(m) }

// Names lists the named signals present in m, in bit order.
func (m Mask) Names() []string {
	var out []string
	for _, n := range maskNames {
		if m.Has(n.bit) {
			out = append(out, n.name)
		}
	}
	return out
}

func (m Mask) String() string {
	if m == 0 {
		return "none"
	}
	return strings.Join(m.Names(), "|")
}
