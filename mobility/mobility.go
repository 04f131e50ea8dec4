// Package mobility implements spec §4.6's multi-homing support: enumerating
// the local machine's usable addresses, ranking them by the preference
// order FSP specifies, and noticing when a peer's advertised subnet set or
// observed source address has changed so MULTIPLY/PEER_SUBNETS can react.
// Interface enumeration is a minimal wrapping of the net package: this
// module does no platform-special casing of its own, leaning on net.Interfaces/net.Addrs the way the rest of
// this codebase leans on stdlib net primitives.
package mobility

import (
	"net"
	"net/netip"
)

// Rank classifies an address by FSP's preference order for path selection:
// link-local, then 6to4, then Teredo, then unique-local, then global
// unicast (spec §4.6).
type Rank int

const (
	RankUnusable Rank = iota
	RankGlobal
	RankULA
	RankTeredo
	Rank6to4
	RankLinkLocal
)

var ula = netip.MustParsePrefix("fc00::/7")
var sixToFour = netip.MustParsePrefix("2002::/16")
var teredo = netip.MustParsePrefix("2001::/32")

// ClassifyAddr ranks addr per spec §4.6's preference order; higher Rank
// values are tried first when proposing local subnets to a peer.
func ClassifyAddr(addr netip.Addr) Rank {
	switch {
	case !addr.IsValid() || addr.IsUnspecified() || addr.IsLoopback():
		return RankUnusable
	case addr.IsLinkLocalUnicast():
		return RankLinkLocal
	case addr.Is4():
		return RankGlobal // IPv4 addresses rank as plain global for path selection purposes.
	case sixToFour.Contains(addr):
		return Rank6to4
	case teredo.Contains(addr):
		return RankTeredo
	case ula.Contains(addr):
		return RankULA
	default:
		return RankGlobal
	}
}

// LocalPrefix is one candidate local subnet prefix, carrying enough of the
// interface's identity to react to it disappearing (e.g. a laptop's Wi-Fi
// radio going down mid-connection, spec §4.6's core mobility scenario).
type LocalPrefix struct {
	Interface string
	Prefix    netip.Prefix
	Rank      Rank
}

// EnumerateLocalPrefixes lists up to maxPrefixes usable prefixes across all
// local interfaces, best Rank first, mirroring the four PEER_SUBNETS slots
// of the wire extension (spec §6's PeerSubnetsExt holds 4 prefixes).
func EnumerateLocalPrefixes(maxPrefixes int) ([]LocalPrefix, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []LocalPrefix
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			addr, ok := netip.AddrFromSlice(ipnet.IP)
			if !ok {
				continue
			}
			addr = addr.Unmap()
			rank := ClassifyAddr(addr)
			if rank == RankUnusable {
				continue
			}
			ones, _ := ipnet.Mask.Size()
			out = append(out, LocalPrefix{
				Interface: iface.Name,
				Prefix:    netip.PrefixFrom(addr, ones),
				Rank:      rank,
			})
		}
	}
	sortByRankDesc(out)
	if len(out) > maxPrefixes {
		out = out[:maxPrefixes]
	}
	return out, nil
}

func sortByRankDesc(ps []LocalPrefix) {
	for i := 1; i < len(ps); i++ {
		for j := i; j > 0 && ps[j].Rank > ps[j-1].Rank; j-- {
			ps[j], ps[j-1] = ps[j-1], ps[j]
		}
	}
}
