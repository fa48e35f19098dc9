// Package filter evaluates route filter rules against normalized events.
// Rules are compiled once at config load; evaluation is pure and does no
// I/O. The combination policy is first-match-wins over the ordered rule
// list, with default-allow when no rule matches.
package filter

import (
	"fmt"
	"regexp"

	"bridgex/internal/domain"
)

// Action is what a matching rule does with the event.
type Action int

const (
	// ActionDeny blocks relaying to the evaluated target.
	ActionDeny Action = iota
	ActionAllow
)

// RuleSpec is the declarative form of a rule as written in filter.yaml or
// inline on a bridge entry. Every regex field is optional; an absent field
// always matches. Matching is unanchored, re-style search semantics.
type RuleSpec struct {
	// Event selects the direction the group regex applies to: "send"
	// matches the origin group (default), "receive" the target group.
	Event  string `yaml:"event,omitempty" json:"event,omitempty"`
	Action string `yaml:"action,omitempty" json:"action,omitempty"` // "allow" | "deny" (default deny)

	Group   string `yaml:"group,omitempty" json:"group,omitempty"`
	Text    string `yaml:"text,omitempty" json:"text,omitempty"`
	Nick    string `yaml:"nick,omitempty" json:"nick,omitempty"`
	FwdFrom string `yaml:"fwd_from,omitempty" json:"fwd_from,omitempty"`

	CaseInsensitive bool `yaml:"case_insensitive,omitempty" json:"case_insensitive,omitempty"`
	// FilterReply extends text/nick matching to the replied-to message;
	// defaults to true as in classic deny-rule usage.
	FilterReply *bool `yaml:"filter_reply,omitempty" json:"filter_reply,omitempty"`
}

// Rule is a compiled filter rule.
type Rule struct {
	event       string
	action      Action
	group       *regexp.Regexp
	text        *regexp.Regexp
	nick        *regexp.Regexp
	fwdFrom     *regexp.Regexp
	filterReply bool
}

// Action returns what the rule does when it matches.
func (r Rule) Action() Action { return r.action }

// Compile validates and compiles a rule spec. A malformed regex or an
// unknown event/action value is a configuration error.
func Compile(spec RuleSpec) (Rule, error) {
	r := Rule{event: spec.Event, filterReply: true}

	switch spec.Event {
	case "", "send", "receive":
	default:
		return Rule{}, fmt.Errorf("filter: unknown event %q", spec.Event)
	}
	switch spec.Action {
	case "", "deny":
		r.action = ActionDeny
	case "allow":
		r.action = ActionAllow
	default:
		return Rule{}, fmt.Errorf("filter: unknown action %q", spec.Action)
	}
	if spec.FilterReply != nil {
		r.filterReply = *spec.FilterReply
	}

	var err error
	compile := func(expr string) (*regexp.Regexp, error) {
		if expr == "" {
			return nil, nil
		}
		if spec.CaseInsensitive {
			expr = "(?i)" + expr
		}
		return regexp.Compile(expr)
	}
	if r.group, err = compile(spec.Group); err != nil {
		return Rule{}, fmt.Errorf("filter: group regex: %w", err)
	}
	if r.text, err = compile(spec.Text); err != nil {
		return Rule{}, fmt.Errorf("filter: text regex: %w", err)
	}
	if r.nick, err = compile(spec.Nick); err != nil {
		return Rule{}, fmt.Errorf("filter: nick regex: %w", err)
	}
	if r.fwdFrom, err = compile(spec.FwdFrom); err != nil {
		return Rule{}, fmt.Errorf("filter: fwd_from regex: %w", err)
	}
	return r, nil
}

// CompileAll compiles an ordered list of specs, failing on the first bad
// rule.
func CompileAll(specs []RuleSpec) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for i, spec := range specs {
		r, err := Compile(spec)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// matches reports whether the rule matches the event relayed from its
// origin toward target. All populated fields must match.
func (r Rule) matches(ev domain.Event, target domain.Endpoint) bool {
	if r.group != nil {
		subject := ev.Origin.String()
		if r.event == "receive" {
			subject = target.String()
		}
		if !r.group.MatchString(subject) {
			return false
		}
	}

	if r.matchAttrs(ev.Text, ev.AuthorNick, ev.FwdFrom) {
		return true
	}

	// Deny rules traditionally extend to the replied-to message so a
	// blocked sender cannot be quoted around the filter.
	if r.filterReply && ev.ReplyTo != nil && (r.text != nil || r.nick != nil) {
		return r.matchAttrs(ev.ReplyTo.Text, ev.ReplyTo.Nick, "")
	}
	return false
}

func (r Rule) matchAttrs(text, nick, fwdFrom string) bool {
	if r.text != nil && !r.text.MatchString(text) {
		return false
	}
	if r.nick != nil && !r.nick.MatchString(nick) {
		return false
	}
	if r.fwdFrom != nil && !r.fwdFrom.MatchString(fwdFrom) {
		return false
	}
	// A rule with no attribute fields at all still needs its group field
	// to have matched; a completely empty rule matches everything.
	return true
}

// Allow runs the ordered rule list against one (event, target) pair and
// reports whether the event may be relayed to that target.
func Allow(rules []Rule, ev domain.Event, target domain.Endpoint) bool {
	for _, r := range rules {
		if r.matches(ev, target) {
			return r.action == ActionAllow
		}
	}
	return true
}
