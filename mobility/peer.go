package mobility

import "net/netip"

// MaxPeerPrefixes is the number of subnet prefixes a PEER_SUBNETS extension
// can carry (spec §6's PeerSubnetsExt: 4 u64 prefixes).
const MaxPeerPrefixes = 4

// PeerPath tracks one connection's view of the peer's reachable addresses:
// the subnets it last advertised, and the address its packets are actually
// arriving from, which may briefly disagree during a handover (spec §4.6).
type PeerPath struct {
	Subnets     [MaxPeerPrefixes]netip.Prefix
	ObservedSrc netip.AddrPort
}

// UpdateSubnets replaces the peer's advertised subnet set from a decoded
// PEER_SUBNETS extension.
func (p *PeerPath) UpdateSubnets(prefixes []netip.Prefix) {
	p.Subnets = [MaxPeerPrefixes]netip.Prefix{}
	n := len(prefixes)
	if n > MaxPeerPrefixes {
		n = MaxPeerPrefixes
	}
	copy(p.Subnets[:], prefixes[:n])
}

// ObserveSource records the address a packet actually arrived from and
// reports whether it differs from the previously observed one, signalling
// the caller to consider the path migrated (spec §4.6).
func (p *PeerPath) ObserveSource(src netip.AddrPort) (changed bool) {
	changed = p.ObservedSrc.IsValid() && p.ObservedSrc != src
	p.ObservedSrc = src
	return changed
}

// MatchesKnownSubnet reports whether src falls within any subnet the peer
// has advertised, used to decide whether an address change is still a
// legitimately-owned path or a potential off-path spoof (spec §4.6).
func (p *PeerPath) MatchesKnownSubnet(src netip.Addr) bool {
	for _, pfx := range p.Subnets {
		if pfx.IsValid() && pfx.Contains(src) {
			return true
		}
	}
	return false
}
