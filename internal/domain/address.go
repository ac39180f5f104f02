package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Address identifies a participant, collaborator, or operator. Stored in
// the EIP-55 checksummed 0x-hex form produced by ParseAddress.
type Address string

// ZeroAddress is the empty identity. It never passes an authorization check.
const ZeroAddress Address = ""

// ParseAddress validates s as a hex address and normalises it to the
// checksummed form.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return ZeroAddress, ErrOutOfRange
	}
	return Address(common.HexToAddress(s).Hex()), nil
}

// Equal compares two addresses case-insensitively.
func (a Address) Equal(other Address) bool {
	return strings.EqualFold(string(a), string(other))
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}
