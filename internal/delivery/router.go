package delivery

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/busybox42/sockmailer/internal/mx"
	"github.com/busybox42/sockmailer/internal/smtp"
)

// Router turns a recipient list into sessions and resolves direct routes.
type Router struct {
	config   *Config
	resolver *mx.Cache
	logger   *slog.Logger

	relayRoutes   atomic.Int64
	directRoutes  atomic.Int64
	routingErrors atomic.Int64
}

// NewRouter creates a router. resolver may be nil in relay mode.
func NewRouter(config *Config, resolver *mx.Cache, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		config:   config,
		resolver: resolver,
		logger:   logger.With("component", "router"),
	}
}

// Mode returns the configured delivery mode.
func (r *Router) Mode() Mode {
	if r.config.MTAModeOn {
		return ModeDirect
	}
	return ModeRelay
}

// Plan returns the sessions to run. Relay mode folds every recipient into
// one route; direct mode gives each recipient its own route, unresolved.
func (r *Router) Plan(recipients []string) []*Route {
	if r.Mode() == ModeRelay {
		r.relayRoutes.Add(1)
		return []*Route{{
			Mode:       ModeRelay,
			Host:       r.config.Host,
			Port:       r.config.Port,
			Recipients: recipients,
		}}
	}

	routes := make([]*Route, 0, len(recipients))
	for _, rcpt := range recipients {
		domain, _ := mx.DomainOf(rcpt)
		routes = append(routes, &Route{
			Mode:       ModeDirect,
			Domain:     domain,
			Port:       r.config.Port,
			Recipients: []string{rcpt},
		})
	}
	r.directRoutes.Add(int64(len(routes)))

	r.logger.Debug("Planned direct routes",
		"recipients", len(recipients),
		"domains", len(groupRecipientsByDomain(recipients)))
	return routes
}

// Resolve fills in route.Host from the MX cache. Relay routes are left as is.
func (r *Router) Resolve(ctx context.Context, route *Route) error {
	if route.Mode != ModeDirect || route.Host != "" {
		return nil
	}
	if route.Domain == "" {
		r.routingErrors.Add(1)
		_, err := mx.DomainOf(route.Recipients[0])
		return smtp.NewResolutionError(err)
	}

	host, err := r.resolver.Resolve(ctx, route.Domain)
	if err != nil {
		r.routingErrors.Add(1)
		return smtp.NewResolutionError(err)
	}
	route.Host = host
	return nil
}

// Stats returns routing counters.
func (r *Router) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"relay_routes":   r.relayRoutes.Load(),
		"direct_routes":  r.directRoutes.Load(),
		"routing_errors": r.routingErrors.Load(),
	}
	if r.resolver != nil {
		stats["mx_lookups"] = r.resolver.Lookups()
		stats["mx_cache_hits"] = r.resolver.Hits()
	}
	return stats
}

// groupRecipientsByDomain groups recipients by lowercased domain. Addresses
// without a domain are skipped.
func groupRecipientsByDomain(recipients []string) map[string][]string {
	groups := make(map[string][]string)
	for _, rcpt := range recipients {
		domain, err := mx.DomainOf(rcpt)
		if err != nil {
			continue
		}
		groups[domain] = append(groups[domain], rcpt)
	}
	return groups
}
