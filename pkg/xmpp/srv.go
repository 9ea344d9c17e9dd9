package xmpp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Default client ports.
const (
	DefaultPort    = 5222
	DefaultTLSPort = 5223
)

const resolvConf = "/etc/resolv.conf"

// Target is one host:port a domain's client service is reachable at.
type Target struct {
	Host     string
	Port     int
	Priority uint16
	Weight   uint16
}

func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Resolver looks up _xmpp-client._tcp service records.
type Resolver struct {
	servers []string
	client  *dns.Client
}

// NewResolver reads the system resolver configuration.
func NewResolver() (*Resolver, error) {
	cfg, err := dns.ClientConfigFromFile(resolvConf)
	if err != nil {
		return nil, fmt.Errorf("read resolver config: %w", err)
	}
	servers := make([]string, 0, len(cfg.Servers))
	for _, server := range cfg.Servers {
		servers = append(servers, net.JoinHostPort(server, cfg.Port))
	}
	return NewResolverWithServers(servers...), nil
}

// NewResolverWithServers queries the given host:port name servers in
// order.
func NewResolverWithServers(servers ...string) *Resolver {
	return &Resolver{
		servers: servers,
		client:  &dns.Client{Timeout: 5 * time.Second},
	}
}

// LookupClient returns the client service targets for domain, best first.
// An empty result with a nil error means the domain publishes no record.
func (r *Resolver) LookupClient(ctx context.Context, domain string) ([]Target, error) {
	if len(r.servers) == 0 {
		return nil, errors.New("no name servers configured")
	}

	query := new(dns.Msg)
	query.SetQuestion(dns.Fqdn("_xmpp-client._tcp."+domain), dns.TypeSRV)
	query.RecursionDesired = true

	var errs []error
	for _, server := range r.servers {
		answer, _, err := r.client.ExchangeContext(ctx, query, server)
		if err != nil {
			errs = append(errs, fmt.Errorf("query %s: %w", server, err))
			continue
		}
		switch answer.Rcode {
		case dns.RcodeSuccess:
			return targetsFrom(answer.Answer), nil
		case dns.RcodeNameError:
			return nil, nil
		default:
			errs = append(errs, fmt.Errorf("query %s: %s", server, dns.RcodeToString[answer.Rcode]))
		}
	}
	return nil, errors.Join(errs...)
}

// targetsFrom keeps the SRV answers, lowest priority first and heaviest
// weight first within a priority. A lone "." target means the service is
// deliberately absent.
func targetsFrom(records []dns.RR) []Target {
	var targets []Target
	for _, record := range records {
		srv, ok := record.(*dns.SRV)
		if !ok {
			continue
		}
		host := strings.TrimSuffix(srv.Target, ".")
		if host == "" {
			continue
		}
		targets = append(targets, Target{
			Host:     host,
			Port:     int(srv.Port),
			Priority: srv.Priority,
			Weight:   srv.Weight,
		})
	}
	sort.SliceStable(targets, func(i, j int) bool {
		if targets[i].Priority != targets[j].Priority {
			return targets[i].Priority < targets[j].Priority
		}
		return targets[i].Weight > targets[j].Weight
	})
	return targets
}
