package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// DNSChecker probes a DNS server by issuing a real query. Any well-formed
// response counts as healthy, including NXDOMAIN or SERVFAIL: the probe
// verifies the daemon is serving, not that a record exists.
type DNSChecker struct {
	// Server is the DNS server address (e.g., "10.10.0.1:53")
	Server string

	// Name is the query name; defaults to the cluster apex
	Name string

	// Timeout bounds the exchange
	Timeout time.Duration
}

// NewDNSChecker creates a DNS probe
func NewDNSChecker(server, name string) *DNSChecker {
	if name == "" {
		name = "cluster.local."
	}
	return &DNSChecker{
		Server:  server,
		Name:    dns.Fqdn(name),
		Timeout: 3 * time.Second,
	}
}

// Check performs the DNS probe
func (d *DNSChecker) Check(ctx context.Context) Result {
	start := time.Now()

	msg := new(dns.Msg)
	msg.SetQuestion(d.Name, dns.TypeA)

	client := &dns.Client{Timeout: d.Timeout}
	resp, _, err := client.ExchangeContext(ctx, msg, d.Server)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("query failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("DNS response %s from %s", dns.RcodeToString[resp.Rcode], d.Server),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the probe type
func (d *DNSChecker) Type() CheckType {
	return CheckTypeDNS
}
