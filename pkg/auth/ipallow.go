package auth

import (
	"fmt"
	"net/netip"
	"strings"
)

// IPAllowList holds the exact addresses and CIDR ranges a key may be used from.
// An empty list allows every address.
type IPAllowList struct {
	prefixes []netip.Prefix
}

// ParseIPAllowList parses IPv4/IPv6 addresses and CIDR ranges. Any invalid entry
// fails the whole list with ErrInvalidIPRestriction.
func ParseIPAllowList(entries []string) (IPAllowList, error) {
	list := IPAllowList{prefixes: make([]netip.Prefix, 0, len(entries))}
	for _, entry := range entries {
		prefix, err := parseEntry(entry)
		if err != nil {
			return IPAllowList{}, fmt.Errorf("%w: %q", ErrInvalidIPRestriction, entry)
		}
		list.prefixes = append(list.prefixes, prefix)
	}
	return list, nil
}

// ValidateIPRestrictions checks entries without keeping the parsed list
func ValidateIPRestrictions(entries []string) error {
	_, err := ParseIPAllowList(entries)
	return err
}

func parseEntry(entry string) (netip.Prefix, error) {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, err
		}
		return prefix.Masked(), nil
	}

	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Empty reports whether the list has no entries
func (l IPAllowList) Empty() bool {
	return len(l.prefixes) == 0
}

// Allows reports whether ip falls inside any entry. Unparseable addresses are rejected
// unless the list is empty.
func (l IPAllowList) Allows(ip string) bool {
	if l.Empty() {
		return true
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, prefix := range l.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// Trusts reports whether peer is inside the list. Unlike Allows, an empty
// list trusts no address.
func (l IPAllowList) Trusts(peer string) bool {
	return !l.Empty() && l.Allows(peer)
}
