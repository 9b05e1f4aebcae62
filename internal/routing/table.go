// Package routing maps inbound paths to upstream services and the filters
// each route requires.
package routing

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// Profile is a named filter set.
type Profile string

const (
	// ProfilePublic routes skip authentication, rate limiting and breaking.
	ProfilePublic Profile = "public"
	// ProfileAuthenticated routes run the full pipeline.
	ProfileAuthenticated Profile = "authenticated"
	// ProfileInfrastructure routes are served by the gateway itself.
	ProfileInfrastructure Profile = "infrastructure"
)

// Filters lists the pipeline stages a route requires.
type Filters struct {
	Authenticate bool `yaml:"authenticate" json:"authenticate"`
	RateLimit    bool `yaml:"rateLimit" json:"rate_limit"`
	CircuitBreak bool `yaml:"circuitBreak" json:"circuit_break"`
}

// Filters returns the filter set implied by the profile.
func (p Profile) Filters() Filters {
	if p == ProfileAuthenticated {
		return Filters{Authenticate: true, RateLimit: true, CircuitBreak: true}
	}
	return Filters{}
}

func (p Profile) Valid() bool {
	switch p {
	case ProfilePublic, ProfileAuthenticated, ProfileInfrastructure:
		return true
	}
	return false
}

// Rule associates a path prefix with an upstream.
type Rule struct {
	Name     string  `json:"name"`
	Prefix   string  `json:"prefix"`
	Upstream string  `json:"upstream"`
	Profile  Profile `json:"profile"`
	Filters  Filters `json:"filters"`
	// Local rules are answered by the gateway's own handlers.
	Local bool `json:"local"`
}

// NewRule builds a rule whose filters follow the profile.
func NewRule(name, prefix, upstream string, profile Profile) Rule {
	return Rule{
		Name:     name,
		Prefix:   prefix,
		Upstream: upstream,
		Profile:  profile,
		Filters:  profile.Filters(),
		Local:    profile == ProfileInfrastructure,
	}
}

func (r Rule) matches(p string) bool {
	if r.Prefix == "/" {
		return true
	}
	return p == r.Prefix || strings.HasPrefix(p, r.Prefix+"/")
}

// GatewayUpstream is the upstream name of routes served locally.
const GatewayUpstream = "api-gateway"

// DefaultRules is the route table of the food delivery platform.
func DefaultRules() []Rule {
	return []Rule{
		NewRule("user-service-auth", "/auth", "user-service", ProfilePublic),
		NewRule("user-service", "/users", "user-service", ProfileAuthenticated),
		NewRule("restaurant-service", "/restaurants", "restaurant-service", ProfileAuthenticated),
		NewRule("order-service", "/orders", "order-service", ProfileAuthenticated),
		NewRule("delivery-service", "/deliveries", "delivery-service", ProfileAuthenticated),
		NewRule("notification-service-ws", "/ws", "notification-service", ProfilePublic),
		NewRule("actuator", "/actuator", GatewayUpstream, ProfileInfrastructure),
		NewRule("health", "/health", GatewayUpstream, ProfileInfrastructure),
		NewRule("admin", "/admin", GatewayUpstream, ProfileInfrastructure),
	}
}

// Table is an immutable, ordered route table. Safe for concurrent use.
type Table struct {
	rules   []Rule // registration order
	ordered []Rule // longest prefix first, ties in registration order
}

// NewTable validates and compiles rules.
func NewTable(rules []Rule) (*Table, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("route table is empty")
	}

	names := make(map[string]struct{}, len(rules))
	compiled := make([]Rule, 0, len(rules))
	for i, r := range rules {
		if r.Name == "" {
			return nil, fmt.Errorf("route %d: name is required", i)
		}
		if _, dup := names[r.Name]; dup {
			return nil, fmt.Errorf("route %q: duplicate name", r.Name)
		}
		names[r.Name] = struct{}{}

		if !strings.HasPrefix(r.Prefix, "/") {
			return nil, fmt.Errorf("route %q: prefix %q must start with /", r.Name, r.Prefix)
		}
		if r.Upstream == "" {
			return nil, fmt.Errorf("route %q: upstream is required", r.Name)
		}
		r.Prefix = path.Clean(r.Prefix)
		compiled = append(compiled, r)
	}

	ordered := make([]Rule, len(compiled))
	copy(ordered, compiled)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].Prefix) > len(ordered[j].Prefix)
	})

	return &Table{rules: compiled, ordered: ordered}, nil
}

// Resolve returns the rule for p. p should already be cleaned.
func (t *Table) Resolve(p string) (Rule, bool) {
	for _, r := range t.ordered {
		if r.matches(p) {
			return r, true
		}
	}
	return Rule{}, false
}

// Rules returns the rules in registration order.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Upstreams returns the distinct non-local upstream names.
func (t *Table) Upstreams() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range t.rules {
		if r.Local {
			continue
		}
		if _, ok := seen[r.Upstream]; ok {
			continue
		}
		seen[r.Upstream] = struct{}{}
		out = append(out, r.Upstream)
	}
	return out
}

// CleanPath resolves dot segments and duplicate slashes so routing decisions
// match what upstreams will see. A trailing slash is kept.
func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	cleaned := path.Clean(p)
	if cleaned != "/" && strings.HasSuffix(p, "/") {
		cleaned += "/"
	}
	return cleaned
}
