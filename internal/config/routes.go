package config

import (
	"fmt"
	"os"
	"strings"

	"bridgex/internal/domain"
	"bridgex/internal/filter"

	"gopkg.in/yaml.v3"
)

// Route is one resolved bridge link: a set of mirrored endpoints plus the
// compiled filter rules scoped to it. RuleSpecs keeps the declarative form
// for display on the console.
type Route struct {
	Endpoints []domain.Endpoint
	Rules     []filter.Rule
	RuleSpecs []filter.RuleSpec
}

// Targets returns the route's endpoints other than origin.
func (r *Route) Targets(origin domain.Endpoint) []domain.Endpoint {
	targets := make([]domain.Endpoint, 0, len(r.Endpoints)-1)
	for _, ep := range r.Endpoints {
		if ep != origin {
			targets = append(targets, ep)
		}
	}
	return targets
}

// Table is the immutable resolved route table. Hot reload builds a fresh
// Table and swaps it atomically; a Table is never mutated after BuildTable.
type Table struct {
	Routes     []*Route
	byEndpoint map[domain.Endpoint][]*Route
}

// RoutesFor returns every route containing the endpoint.
func (t *Table) RoutesFor(ep domain.Endpoint) []*Route {
	return t.byEndpoint[ep]
}

// GroupsFor lists the group ids of one platform across all routes, for
// adapters that need to know what to join or subscribe to.
func (t *Table) GroupsFor(p domain.Platform) []string {
	seen := make(map[string]bool)
	var groups []string
	for _, r := range t.Routes {
		for _, ep := range r.Endpoints {
			if ep.Platform == p && !seen[ep.GroupID] {
				seen[ep.GroupID] = true
				groups = append(groups, ep.GroupID)
			}
		}
	}
	return groups
}

// ParseEndpoint parses "platform/group_id" notation.
func ParseEndpoint(s string) (domain.Endpoint, error) {
	platform, group, ok := strings.Cut(s, "/")
	if !ok || group == "" {
		return domain.Endpoint{}, fmt.Errorf("endpoint %q: want platform/group_id", s)
	}
	p := domain.Platform(strings.ToLower(platform))
	if !p.Valid() {
		return domain.Endpoint{}, fmt.Errorf("endpoint %q: unknown platform %q", s, platform)
	}
	return domain.Endpoint{Platform: p, GroupID: group}, nil
}

// filterFile is the shape of filter.yaml.
type filterFile struct {
	Filters []filter.RuleSpec `yaml:"filters"`
}

// LoadFilterRules reads global filter rules from filter.yaml. A missing
// file is not an error: a bridge with no filters is valid.
func LoadFilterRules(path string) ([]filter.RuleSpec, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read filter file: %w", err)
	}
	var ff filterFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parse filter file: %w", err)
	}
	return ff.Filters, nil
}

// BuildTable resolves bridge specs into a route table, compiling inline and
// global filter rules. Any malformed rule fails the whole build: filter
// errors surface at load time, never at relay time.
func BuildTable(cfg *Config) (*Table, error) {
	global, err := LoadFilterRules(cfg.FilterFile)
	if err != nil {
		return nil, err
	}
	globalRules, err := filter.CompileAll(global)
	if err != nil {
		return nil, fmt.Errorf("filter file %s: %w", cfg.FilterFile, err)
	}

	t := &Table{byEndpoint: make(map[domain.Endpoint][]*Route)}
	for i, spec := range cfg.Bridges {
		route := &Route{}
		for _, g := range spec.Groups {
			ep, err := ParseEndpoint(g)
			if err != nil {
				return nil, fmt.Errorf("bridges[%d]: %w", i, err)
			}
			route.Endpoints = append(route.Endpoints, ep)
		}
		inline, err := filter.CompileAll(spec.Filters)
		if err != nil {
			return nil, fmt.Errorf("bridges[%d]: %w", i, err)
		}
		// Inline rules run before the global ones; first match wins.
		route.Rules = append(inline, globalRules...)
		route.RuleSpecs = append(append([]filter.RuleSpec{}, spec.Filters...), global...)

		t.Routes = append(t.Routes, route)
		for _, ep := range route.Endpoints {
			t.byEndpoint[ep] = append(t.byEndpoint[ep], route)
		}
	}
	return t, nil
}
