package mobility

import (
	"net/netip"
	"testing"

	"github.com/go-test/deep"
)

func TestClassifyAddrRanks(t *testing.T) {
	cases := []struct {
		addr string
		want Rank
	}{
		{"fe80::1", RankLinkLocal},
		{"fc00::1", RankULA},
		{"2001::1", RankTeredo},
		{"2002::1", Rank6to4},
		{"2001:db8::1", RankGlobal},
		{"::1", RankUnusable},
	}
	for _, c := range cases {
		addr := netip.MustParseAddr(c.addr)
		if got := ClassifyAddr(addr); got != c.want {
			t.Errorf("ClassifyAddr(%s) = %v, want %v", c.addr, got, c.want)
		}
	}
}

func TestPeerPathObserveSourceChange(t *testing.T) {
	var p PeerPath
	a := netip.MustParseAddrPort("192.0.2.1:4000")
	b := netip.MustParseAddrPort("192.0.2.2:4000")

	if changed := p.ObserveSource(a); changed {
		t.Fatal("first observation should never report a change")
	}
	if changed := p.ObserveSource(a); changed {
		t.Fatal("same source should not report a change")
	}
	if changed := p.ObserveSource(b); !changed {
		t.Fatal("different source should report a change")
	}
}

func TestMatchesKnownSubnet(t *testing.T) {
	var p PeerPath
	p.UpdateSubnets([]netip.Prefix{netip.MustParsePrefix("192.0.2.0/24")})
	if !p.MatchesKnownSubnet(netip.MustParseAddr("192.0.2.42")) {
		t.Fatal("expected address within advertised subnet to match")
	}
	if p.MatchesKnownSubnet(netip.MustParseAddr("203.0.113.1")) {
		t.Fatal("expected address outside advertised subnets to not match")
	}
}

func TestUpdateSubnetsReplacesPriorSet(t *testing.T) {
	var p PeerPath
	p.UpdateSubnets([]netip.Prefix{netip.MustParsePrefix("192.0.2.0/24"), netip.MustParsePrefix("198.51.100.0/24")})
	p.UpdateSubnets([]netip.Prefix{netip.MustParsePrefix("203.0.113.0/24")})

	want := [MaxPeerPrefixes]netip.Prefix{netip.MustParsePrefix("203.0.113.0/24")}
	if diff := deep.Equal(p.Subnets, want); diff != nil {
		t.Fatalf("subnet set not fully replaced: %v", diff)
	}
}
