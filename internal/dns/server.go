// Package dns implements a sinkholing DNS forwarder. While restrictions are
// applied, queries for selected sites and their subdomains resolve to the
// unspecified address; everything else is forwarded upstream.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"github.com/goodtune/focusguard/internal/metrics"
	"github.com/goodtune/focusguard/internal/storage"
)

const (
	actionBlock    = "BLOCK"
	actionForward  = "FORWARD"
	actionServfail = "SERVFAIL"
)

var errNoUpstream = errors.New("all upstream DNS servers failed")

// Server handles DNS queries with block/forward logic
type Server struct {
	upstreamDNS []string
	blockTTL    uint32
	logger      zerolog.Logger

	mu      sync.RWMutex
	blocked map[string]struct{}

	// Verdicts per query name, purged whenever the blocked set changes
	verdicts *lru.Cache[string, bool]

	// DNS client for upstream queries
	client *dns.Client

	// Servers
	udpServer *dns.Server
	tcpServer *dns.Server
}

// Config holds DNS server configuration
type Config struct {
	ListenAddr  string
	UpstreamDNS []string
	BlockTTL    uint32
	EnableTCP   bool
	EnableUDP   bool
	Timeout     time.Duration
	CacheSize   int
}

// NewServer creates a new DNS server
func NewServer(config Config, logger zerolog.Logger) (*Server, error) {
	size := config.CacheSize
	if size <= 0 {
		size = 4096
	}
	verdicts, err := lru.New[string, bool](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create verdict cache: %w", err)
	}

	upstreams := make([]string, 0, len(config.UpstreamDNS))
	for _, u := range config.UpstreamDNS {
		if _, _, err := net.SplitHostPort(u); err != nil {
			u = net.JoinHostPort(u, "53")
		}
		upstreams = append(upstreams, u)
	}

	s := &Server{
		upstreamDNS: upstreams,
		blockTTL:    config.BlockTTL,
		logger:      logger.With().Str("component", "dns").Logger(),
		blocked:     make(map[string]struct{}),
		verdicts:    verdicts,
		client: &dns.Client{
			Timeout: config.Timeout,
		},
	}

	mux := dns.NewServeMux()
	mux.HandleFunc(".", s.handleDNSRequest)

	if config.EnableUDP {
		s.udpServer = &dns.Server{
			Addr:    config.ListenAddr,
			Net:     "udp",
			Handler: mux,
		}
	}

	if config.EnableTCP {
		s.tcpServer = &dns.Server{
			Addr:    config.ListenAddr,
			Net:     "tcp",
			Handler: mux,
		}
	}

	return s, nil
}

// SetPacketConn sets a pre-created UDP socket for systemd socket activation
func (s *Server) SetPacketConn(pc net.PacketConn) {
	if s.udpServer != nil {
		s.udpServer.PacketConn = pc
	}
}

// SetListener sets a pre-created TCP listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	if s.tcpServer != nil {
		s.tcpServer.Listener = ln
	}
}

// Start starts the DNS server
func (s *Server) Start() error {
	errChan := make(chan error, 2)

	if s.udpServer != nil {
		go func() {
			s.logger.Info().Str("addr", s.udpServer.Addr).Msg("Starting DNS server (UDP)")
			if err := serve(s.udpServer, s.udpServer.PacketConn != nil); err != nil {
				errChan <- fmt.Errorf("UDP server error: %w", err)
			}
		}()
	}

	if s.tcpServer != nil {
		go func() {
			s.logger.Info().Str("addr", s.tcpServer.Addr).Msg("Starting DNS server (TCP)")
			if err := serve(s.tcpServer, s.tcpServer.Listener != nil); err != nil {
				errChan <- fmt.Errorf("TCP server error: %w", err)
			}
		}()
	}

	// Wait a bit to ensure servers started
	select {
	case err := <-errChan:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

func serve(srv *dns.Server, activated bool) error {
	if activated {
		return srv.ActivateAndServe()
	}
	return srv.ListenAndServe()
}

// Stop stops the DNS server
func (s *Server) Stop() error {
	var errs []error

	if s.udpServer != nil {
		if err := s.udpServer.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("UDP shutdown error: %w", err))
		}
	}

	if s.tcpServer != nil {
		if err := s.tcpServer.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("TCP shutdown error: %w", err))
		}
	}

	return errors.Join(errs...)
}

// ApplyRestrictions replaces the blocked site set. Apps are not visible at
// the DNS layer and are ignored.
func (s *Server) ApplyRestrictions(_ context.Context, _ []string, sites []string) error {
	sel := storage.Selection{Sites: sites}.Normalize()

	blocked := make(map[string]struct{}, len(sel.Sites))
	for _, site := range sel.Sites {
		blocked[site] = struct{}{}
	}

	s.mu.Lock()
	s.blocked = blocked
	s.verdicts.Purge()
	s.mu.Unlock()

	metrics.DNSBlockedSites.Set(float64(len(blocked)))
	s.logger.Info().Int("sites", len(blocked)).Msg("DNS restrictions applied")
	return nil
}

// RemoveRestrictions clears the blocked site set.
func (s *Server) RemoveRestrictions(_ context.Context) error {
	s.mu.Lock()
	s.blocked = make(map[string]struct{})
	s.verdicts.Purge()
	s.mu.Unlock()

	metrics.DNSBlockedSites.Set(0)
	s.logger.Info().Msg("DNS restrictions removed")
	return nil
}

// Refresh drops cached verdicts.
func (s *Server) Refresh(_ context.Context) error {
	s.verdicts.Purge()
	return nil
}

// IsBlocked reports whether domain or one of its parent domains is blocked.
func (s *Server) IsBlocked(domain string) bool {
	domain = strings.TrimSuffix(strings.ToLower(domain), ".")
	if domain == "" {
		return false
	}
	if v, ok := s.verdicts.Get(domain); ok {
		return v
	}

	// Held across Add so a concurrent apply cannot leave a stale verdict.
	s.mu.RLock()
	defer s.mu.RUnlock()
	blocked := matches(s.blocked, domain)
	s.verdicts.Add(domain, blocked)
	return blocked
}

func matches(blocked map[string]struct{}, domain string) bool {
	if len(blocked) == 0 {
		return false
	}
	for name := domain; name != ""; {
		if _, ok := blocked[name]; ok {
			return true
		}
		i := strings.IndexByte(name, '.')
		if i < 0 {
			break
		}
		name = name[i+1:]
	}
	return false
}

// handleDNSRequest handles incoming DNS requests
func (s *Server) handleDNSRequest(w dns.ResponseWriter, r *dns.Msg) {
	msg := s.answer(r)
	if err := w.WriteMsg(msg); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write DNS response")
	}
}

// answer builds the response for r.
func (s *Server) answer(r *dns.Msg) *dns.Msg {
	startTime := time.Now()

	if len(r.Question) == 0 {
		msg := new(dns.Msg)
		msg.SetRcode(r, dns.RcodeFormatError)
		return msg
	}

	question := r.Question[0]
	domain := strings.TrimSuffix(question.Name, ".")
	qtype := dns.TypeToString[question.Qtype]

	var (
		msg    *dns.Msg
		action string
	)

	if s.IsBlocked(domain) {
		msg = s.createBlockResponse(r, &question)
		action = actionBlock
	} else {
		resp, upstream, err := s.forwardToUpstream(r)
		if err != nil {
			s.logger.Warn().Err(err).Str("domain", domain).Msg("Upstream DNS query failed")
			msg = new(dns.Msg)
			msg.SetRcode(r, dns.RcodeServerFailure)
			action = actionServfail
		} else {
			msg = resp
			msg.Id = r.Id
			action = actionForward
			s.logger.Debug().Str("domain", domain).Str("upstream", upstream).Msg("DNS query forwarded")
		}
	}

	s.logger.Debug().
		Str("domain", domain).
		Str("type", qtype).
		Str("action", action).
		Msg("DNS query answered")

	metrics.DNSQueriesTotal.WithLabelValues(action, qtype).Inc()
	metrics.DNSQueryDuration.WithLabelValues(action).Observe(time.Since(startTime).Seconds())
	return msg
}

// createBlockResponse answers A with 0.0.0.0, AAAA with :: and anything else
// with an empty NOERROR.
func (s *Server) createBlockResponse(r *dns.Msg, q *dns.Question) *dns.Msg {
	msg := new(dns.Msg)
	msg.SetReply(r)
	msg.Authoritative = true

	hdr := dns.RR_Header{
		Name:   q.Name,
		Rrtype: q.Qtype,
		Class:  dns.ClassINET,
		Ttl:    s.blockTTL,
	}

	switch q.Qtype {
	case dns.TypeA:
		msg.Answer = append(msg.Answer, &dns.A{Hdr: hdr, A: net.IPv4zero.To4()})
	case dns.TypeAAAA:
		msg.Answer = append(msg.Answer, &dns.AAAA{Hdr: hdr, AAAA: net.IPv6unspecified})
	}
	return msg
}

// forwardToUpstream forwards a DNS query to upstream DNS servers
func (s *Server) forwardToUpstream(r *dns.Msg) (*dns.Msg, string, error) {
	// Try each upstream DNS server
	for _, upstream := range s.upstreamDNS {
		resp, _, err := s.client.Exchange(r, upstream)
		if err == nil && resp != nil {
			return resp, upstream, nil
		}
		s.logger.Warn().
			Err(err).
			Str("upstream", upstream).
			Msg("Upstream DNS query failed, trying next")

		metrics.DNSUpstreamErrors.WithLabelValues(upstream).Inc()
	}
	return nil, "", errNoUpstream
}
