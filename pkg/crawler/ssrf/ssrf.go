// Package ssrf implements the outbound-request guard every ingestor and the
// tool loop's fetch_url tool must apply before issuing any network request
// (§4.E, §9 "no request is issued to any host resolving into a blocked
// CIDR").
package ssrf

import (
	"context"
	"net"
	"net/url"
	"strings"

	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
)

// Reason refines core.CategoryValidation-class SSRF rejections into the
// distinct Security variants named by §4.E's CrawlError taxonomy.
type Reason string

const (
	ReasonDisallowedScheme Reason = "disallowed_scheme"
	ReasonBlockedHost      Reason = "blocked_host"
	ReasonBlockedCidr      Reason = "blocked_cidr"
	ReasonNoHost           Reason = "no_host"
	ReasonDNSResolution    Reason = "dns_resolution"
	ReasonURLParse         Reason = "url_parse"
)

// Error is returned by Guard.Check. It always carries CategoryValidation:
// an SSRF rejection is a caller mistake (or hostile input), never a
// transient condition worth retrying.
type Error struct {
	Reason Reason
	URL    string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return "ssrf: " + string(e.Reason) + " (" + e.URL + "): " + e.Cause.Error()
	}
	return "ssrf: " + string(e.Reason) + " (" + e.URL + ")"
}

func (e *Error) Unwrap() error { return e.Cause }

// AsSeesawError converts e to the cross-bus CommandFailed representation.
func (e *Error) AsSeesawError() *core.SeesawError {
	return core.Wrap(core.CategoryValidation, "ssrf: "+string(e.Reason), e)
}

// Resolver is the DNS lookup surface Guard needs; narrowed from net so a
// test can fake resolution without touching the network.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Guard enforces the SSRF allow-list/block-list before any outbound
// request. It is stateless and safe for concurrent use.
type Guard struct {
	allowedSchemes map[string]bool
	blockedHosts   map[string]bool
	blockedCIDRs   []*net.IPNet
	resolver       Resolver
}

// Config holds the scheme allow-list and the host/CIDR block-list seeds.
// BlockedHosts and BlockedCIDRs correspond to internal/config.Config's
// fields of the same names; schemes are given here as an allow-list.
type Config struct {
	AllowedSchemes []string
	BlockedHosts   []string
	BlockedCIDRs   []string
}

// DefaultBlockedHosts covers the loopback/link-local hostnames attackers
// most commonly use to reach internal services.
var DefaultBlockedHosts = []string{"localhost", "localhost.localdomain", "metadata.google.internal"}

// DefaultBlockedCIDRs covers RFC 1918 private ranges, loopback, link-local,
// and the cloud-metadata address, matching the "internal hostnames /
// private IP ranges" language of §4.E.
var DefaultBlockedCIDRs = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

// New constructs a Guard. An empty cfg.AllowedSchemes defaults to {http,
// https}; empty BlockedHosts/BlockedCIDRs default to the DefaultBlocked*
// lists above. resolver defaults to net.DefaultResolver-backed lookups.
func New(cfg Config, resolver Resolver) (*Guard, error) {
	schemes := cfg.AllowedSchemes
	if len(schemes) == 0 {
		schemes = []string{"http", "https"}
	}
	allowedSchemes := make(map[string]bool, len(schemes))
	for _, s := range schemes {
		allowedSchemes[strings.ToLower(s)] = true
	}

	hosts := cfg.BlockedHosts
	if len(hosts) == 0 {
		hosts = DefaultBlockedHosts
	}
	blockedHosts := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		blockedHosts[strings.ToLower(h)] = true
	}

	cidrs := cfg.BlockedCIDRs
	if len(cidrs) == 0 {
		cidrs = DefaultBlockedCIDRs
	}
	var nets []*net.IPNet
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return nil, core.Wrap(core.CategoryFatal, "ssrf: parse blocked cidr "+c, err)
		}
		nets = append(nets, n)
	}

	if resolver == nil {
		resolver = net.DefaultResolver
	}

	return &Guard{
		allowedSchemes: allowedSchemes,
		blockedHosts:   blockedHosts,
		blockedCIDRs:   nets,
		resolver:       resolver,
	}, nil
}

// Check validates rawURL against every rule in order (scheme, blocked host,
// DNS resolution, blocked CIDR per resolved address) and returns an *Error
// naming the first violated rule, or nil if the request may proceed.
func (g *Guard) Check(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &Error{Reason: ReasonURLParse, URL: rawURL, Cause: err}
	}

	scheme := strings.ToLower(u.Scheme)
	if !g.allowedSchemes[scheme] {
		return &Error{Reason: ReasonDisallowedScheme, URL: rawURL}
	}

	host := u.Hostname()
	if host == "" {
		return &Error{Reason: ReasonNoHost, URL: rawURL}
	}
	if g.blockedHosts[strings.ToLower(host)] {
		return &Error{Reason: ReasonBlockedHost, URL: rawURL}
	}

	if ip := net.ParseIP(host); ip != nil {
		if g.blockedByCIDR(ip) {
			return &Error{Reason: ReasonBlockedCidr, URL: rawURL}
		}
		return nil
	}

	addrs, err := g.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return &Error{Reason: ReasonDNSResolution, URL: rawURL, Cause: err}
	}
	for _, addr := range addrs {
		if g.blockedByCIDR(addr.IP) {
			return &Error{Reason: ReasonBlockedCidr, URL: rawURL}
		}
	}
	return nil
}

func (g *Guard) blockedByCIDR(ip net.IP) bool {
	for _, n := range g.blockedCIDRs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
