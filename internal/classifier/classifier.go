// Package classifier decides which entity categories a cloud device feeds.
//
// Classification runs in two phases. Classify is pure and returns one
// Decision per matching rule. Most decisions are static; a deferred decision
// can only be resolved once the device's coordinator holds a snapshot.
package classifier

import "github.com/micro-ha/switchbot-cloud/internal/model"

type DecisionKind int

const (
	// DecisionStatic carries its category.
	DecisionStatic DecisionKind = iota
	// DecisionDeferred needs the first refreshed snapshot.
	DecisionDeferred
)

// Decision is the outcome of one matching rule.
type Decision struct {
	Rule          string
	Kind          DecisionKind
	Category      model.Category
	WebhookDriven bool

	refine Refinement
}

// Resolve returns the final category. Deferred decisions resolve to nothing
// until a snapshot is available.
func (d Decision) Resolve(snapshot model.Snapshot) (model.Category, bool) {
	switch d.Kind {
	case DecisionStatic:
		return d.Category, d.Category != ""
	case DecisionDeferred:
		if snapshot == nil || d.refine == nil {
			return "", false
		}
		category := d.refine(snapshot)
		return category, category != ""
	default:
		return "", false
	}
}

type Classifier struct {
	rules []Rule
}

// New builds a classifier over rules; with no rules DefaultRules is used.
func New(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Classifier{rules: append([]Rule(nil), rules...)}
}

func (c *Classifier) Classify(device model.Device) []Decision {
	var out []Decision
	for _, rule := range c.rules {
		if rule.Match == nil || !rule.Match(device) {
			continue
		}
		decision := Decision{Rule: rule.Name, WebhookDriven: rule.WebhookDriven}
		if rule.Refine != nil {
			decision.Kind = DecisionDeferred
			decision.refine = rule.Refine
		} else {
			decision.Kind = DecisionStatic
			decision.Category = rule.Category
		}
		out = append(out, decision)
	}
	return out
}

// WebhookDriven reports whether any decision requires push updates.
func WebhookDriven(decisions []Decision) bool {
	for _, d := range decisions {
		if d.WebhookDriven {
			return true
		}
	}
	return false
}
