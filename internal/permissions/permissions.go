// Package permissions implements the declarative RBAC evaluation of spec
// §4.9: an optional custom predicate, then a first-match declarative rules
// list, then a configurable default.
package permissions

import (
	"strings"

	"github.com/relaygate/gateway/internal/session"
)

// Rule is one entry in the declarative permission rules list.
type Rule struct {
	Role    string
	Allow   []string // operation patterns: "*", "prefix.*", or exact
	Buckets []string // optional resource constraint; empty means unconstrained
	Topics  []string // optional resource constraint; empty means unconstrained
}

// Default is the configurable fallback decision when no custom predicate
// and no rule matches.
type Default string

const (
	DefaultAllow Default = "allow"
	DefaultDeny  Default = "deny"
)

// CheckFunc is the optional custom predicate. Returning (decision, true)
// is authoritative; returning (_, false) falls through to the declarative
// rules.
type CheckFunc func(sess *session.Session, operation, resource string) (allow bool, decided bool)

// Evaluator evaluates permission decisions per spec §4.9.
type Evaluator struct {
	Check   CheckFunc
	Rules   []Rule
	Default Default
}

// Allow evaluates the full permission chain for an operation against a
// resource for the given session (nil if unauthenticated).
func (e *Evaluator) Allow(sess *session.Session, operation, resource string) bool {
	if e == nil {
		return true
	}
	if e.Check != nil {
		if allow, decided := e.Check(sess, operation, resource); decided {
			return allow
		}
	}
	for _, rule := range e.Rules {
		if !sess.HasRole(rule.Role) {
			continue
		}
		if !operationMatches(rule.Allow, operation) {
			continue
		}
		if !resourceSatisfied(rule, operation, resource) {
			continue
		}
		return true
	}
	return e.Default == DefaultAllow
}

func operationMatches(patterns []string, operation string) bool {
	for _, p := range patterns {
		if p == "*" {
			return true
		}
		if strings.HasSuffix(p, ".*") {
			prefix := strings.TrimSuffix(p, "*")
			if strings.HasPrefix(operation, prefix) {
				return true
			}
		}
		if p == operation {
			return true
		}
	}
	return false
}

func resourceSatisfied(rule Rule, operation, resource string) bool {
	isRulesOp := strings.HasPrefix(operation, "rules.")
	if isRulesOp && len(rule.Topics) > 0 {
		return containsResource(rule.Topics, resource)
	}
	if !isRulesOp && len(rule.Buckets) > 0 {
		return containsResource(rule.Buckets, resource)
	}
	return true
}

func containsResource(list []string, resource string) bool {
	for _, r := range list {
		if r == "*" || r == resource {
			return true
		}
	}
	return false
}

// ExtractResource derives the resource used for permission matching from an
// operation and its payload, per spec §4.2's extraction table.
func ExtractResource(operation string, payload map[string]interface{}) string {
	switch operation {
	case "store.subscribe":
		return stringField(payload, "query")
	case "store.unsubscribe":
		return stringField(payload, "subscriptionId")
	}
	if strings.HasPrefix(operation, "store.") {
		return stringField(payload, "bucket")
	}
	if strings.HasPrefix(operation, "rules.") {
		for _, key := range []string{"topic", "key", "pattern"} {
			if v := stringField(payload, key); v != "" {
				return v
			}
		}
		return "*"
	}
	return "*"
}

func stringField(payload map[string]interface{}, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
