package dns

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, upstreams ...string) *Server {
	t.Helper()
	s, err := NewServer(Config{
		UpstreamDNS: upstreams,
		BlockTTL:    30,
		Timeout:     time.Second,
		CacheSize:   16,
	}, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func query(name string, qtype uint16) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	return m
}

// startUpstream runs a resolver on loopback that answers every A query with
// 192.0.2.1.
func startUpstream(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(r)
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: r.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
				A:   net.ParseIP("192.0.2.1").To4(),
			})
			_ = w.WriteMsg(m)
		}),
	}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream did not start")
	}
	return pc.LocalAddr().String()
}

func TestIsBlocked_MatchesSubdomains(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.ApplyRestrictions(context.Background(), []string{"com.example.app"}, []string{"Example.com.", "news.test"}))

	tests := []struct {
		domain string
		want   bool
	}{
		{"example.com", true},
		{"www.example.com", true},
		{"a.b.example.com.", true},
		{"notexample.com", false},
		{"test", false},
		{"news.test", true},
		{"", false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, s.IsBlocked(tt.domain), tt.domain)
	}
}

func TestAnswer_BlockedSite(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.ApplyRestrictions(context.Background(), nil, []string{"example.com"}))

	resp := s.answer(query("www.example.com", dns.TypeA))
	require.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Len(t, resp.Answer, 1)
	a, ok := resp.Answer[0].(*dns.A)
	require.True(t, ok)
	require.True(t, a.A.Equal(net.IPv4zero))
	require.Equal(t, uint32(30), a.Hdr.Ttl)

	resp = s.answer(query("example.com", dns.TypeAAAA))
	require.Len(t, resp.Answer, 1)
	aaaa, ok := resp.Answer[0].(*dns.AAAA)
	require.True(t, ok)
	require.True(t, aaaa.AAAA.Equal(net.IPv6unspecified))

	resp = s.answer(query("example.com", dns.TypeMX))
	require.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Empty(t, resp.Answer)
}

func TestAnswer_NoUpstreamServfail(t *testing.T) {
	s := newTestServer(t)

	resp := s.answer(query("example.org", dns.TypeA))
	require.Equal(t, dns.RcodeServerFailure, resp.Rcode)

	resp = s.answer(new(dns.Msg))
	require.Equal(t, dns.RcodeFormatError, resp.Rcode)
}

func TestAnswer_ForwardsAfterRemove(t *testing.T) {
	upstream := startUpstream(t)
	s := newTestServer(t, upstream)
	ctx := context.Background()

	require.NoError(t, s.ApplyRestrictions(ctx, nil, []string{"example.com"}))
	require.True(t, s.IsBlocked("example.com"))

	require.NoError(t, s.RemoveRestrictions(ctx))
	require.False(t, s.IsBlocked("example.com"))

	q := query("example.com", dns.TypeA)
	resp := s.answer(q)
	require.Equal(t, q.Id, resp.Id)
	require.Len(t, resp.Answer, 1)
	require.Equal(t, "192.0.2.1", resp.Answer[0].(*dns.A).A.String())
}

func TestNewServer_UpstreamDefaultPort(t *testing.T) {
	s := newTestServer(t, "9.9.9.9", "1.1.1.1:5353")
	require.Equal(t, []string{"9.9.9.9:53", "1.1.1.1:5353"}, s.upstreamDNS)
}
