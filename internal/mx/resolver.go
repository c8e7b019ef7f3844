// Package mx resolves recipient domains to the mail-exchange host that
// direct delivery connects to, and caches the answers per domain.
package mx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"time"
)

// ErrNullMX is returned for domains publishing a null MX ("."), which
// explicitly do not accept mail.
var ErrNullMX = errors.New("domain does not accept mail (null MX)")

// Resolver maps a domain to the host to deliver to.
type Resolver interface {
	LookupMX(ctx context.Context, domain string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, domain string) (string, error)

// LookupMX calls f.
func (f ResolverFunc) LookupMX(ctx context.Context, domain string) (string, error) {
	return f(ctx, domain)
}

// DNSResolver resolves through the system resolver. A domain without MX
// records resolves to itself (implicit MX).
type DNSResolver struct {
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration

	lookup func(ctx context.Context, name string) ([]*net.MX, error)
	logger *slog.Logger
}

// NewDNSResolver creates a resolver using net.DefaultResolver.
func NewDNSResolver(timeout time.Duration, retries int) *DNSResolver {
	if retries < 1 {
		retries = 1
	}
	return &DNSResolver{
		Timeout:    timeout,
		Retries:    retries,
		RetryDelay: time.Second,
		lookup:     net.DefaultResolver.LookupMX,
		logger:     slog.Default().With("component", "mx-resolver"),
	}
}

// LookupMX returns the most preferred exchange for domain.
func (r *DNSResolver) LookupMX(ctx context.Context, domain string) (string, error) {
	var (
		records []*net.MX
		err     error
	)

	for attempt := 0; attempt < r.Retries; attempt++ {
		lookupCtx, cancel := r.attemptContext(ctx)
		records, err = r.lookup(lookupCtx, domain)
		cancel()

		if err == nil {
			break
		}

		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			r.logger.Debug("no MX records, using domain as exchange", "domain", domain)
			return domain, nil
		}

		r.logger.Debug("MX lookup attempt failed",
			"domain", domain,
			"attempt", attempt+1,
			"error", err)

		if attempt < r.Retries-1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt+1) * r.RetryDelay):
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("MX lookup failed for %s: %w", domain, err)
	}

	if len(records) == 0 {
		return domain, nil
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Pref < records[j].Pref
	})

	host := strings.TrimSuffix(records[0].Host, ".")
	if host == "" {
		return "", fmt.Errorf("%s: %w", domain, ErrNullMX)
	}
	return host, nil
}

func (r *DNSResolver) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.Timeout > 0 {
		return context.WithTimeout(ctx, r.Timeout)
	}
	return context.WithCancel(ctx)
}

// DomainOf returns the lowercased domain part of an address.
func DomainOf(address string) (string, error) {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return "", fmt.Errorf("address %q has no domain", address)
	}
	return strings.ToLower(address[at+1:]), nil
}
