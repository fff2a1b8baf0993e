package resolver

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// DNSLookuper resolves names by querying one DNS server directly instead of
// going through the system resolver. Service names still come from the
// local services database.
type DNSLookuper struct {
	server string
	client *dns.Client
}

// NewDNSLookuper returns a lookuper that sends UDP queries to server
// ("host:port"). A server without a port gets port 53.
func NewDNSLookuper(server string) *DNSLookuper {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &DNSLookuper{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: 5 * time.Second},
	}
}

// LookupNetIP queries A and/or AAAA records depending on network. For "ip"
// IPv4 answers come first.
func (d *DNSLookuper) LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error) {
	var qtypes []uint16
	switch network {
	case "ip4":
		qtypes = []uint16{dns.TypeA}
	case "ip6":
		qtypes = []uint16{dns.TypeAAAA}
	default:
		qtypes = []uint16{dns.TypeA, dns.TypeAAAA}
	}

	var ips []netip.Addr
	var lastErr error
	for _, qtype := range qtypes {
		answers, err := d.exchange(ctx, host, qtype)
		if err != nil {
			lastErr = err
			continue
		}
		ips = append(ips, answers...)
	}
	if len(ips) > 0 {
		return ips, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, Server: d.server, IsNotFound: true}
}

func (d *DNSLookuper) exchange(ctx context.Context, host string, qtype uint16) ([]netip.Addr, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	resp, _, err := d.client.ExchangeContext(ctx, msg, d.server)
	if err != nil {
		var netErr net.Error
		timeout := errors.As(err, &netErr) && netErr.Timeout()
		return nil, &net.DNSError{Err: err.Error(), Name: host, Server: d.server, IsTimeout: timeout, IsTemporary: timeout}
	}

	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, &net.DNSError{Err: "no such host", Name: host, Server: d.server, IsNotFound: true}
	default:
		return nil, &net.DNSError{
			Err:         dns.RcodeToString[resp.Rcode],
			Name:        host,
			Server:      d.server,
			IsTemporary: resp.Rcode == dns.RcodeServerFailure,
		}
	}

	var ips []netip.Addr
	for _, rr := range resp.Answer {
		switch rr := rr.(type) {
		case *dns.A:
			if ip, ok := netip.AddrFromSlice(rr.A.To4()); ok {
				ips = append(ips, ip)
			}
		case *dns.AAAA:
			if ip, ok := netip.AddrFromSlice(rr.AAAA.To16()); ok {
				ips = append(ips, ip)
			}
		}
	}
	return ips, nil
}

// LookupPort resolves service names from the local services database.
func (d *DNSLookuper) LookupPort(ctx context.Context, network, service string) (int, error) {
	return net.DefaultResolver.LookupPort(ctx, network, service)
}
