package tracker

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// IsAddress reports whether s is a 0x-prefixed 20 byte hex address.
func IsAddress(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

// ParseAddress canonicalizes s. Letter case is ignored.
func ParseAddress(s string) (common.Address, error) {
	if !IsAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(strings.TrimSpace(s)), nil
}

// ShortAddress renders 0x1234...abcd for display.
func ShortAddress(addr common.Address) string {
	hex := addr.Hex()
	return hex[:6] + "..." + hex[len(hex)-4:]
}

// FormatProfile builds the "name (contact)" form used by the registration
// form. An empty contact yields the bare name.
func FormatProfile(name, contact string) Profile {
	name = strings.TrimSpace(name)
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return Profile(name)
	}
	return Profile(fmt.Sprintf("%s (%s)", name, contact))
}
