// Package action defines the static action-complexity catalog and the
// complexity-to-maturity requirement table. These tables are the single
// source of truth for what each maturity level may do; the policy engine
// consumes them and contains no action-specific branching of its own.
package action

import "github.com/overseer-labs/warden/pkg/maturity"

// Complexity classifies the risk/impact of an action type.
type Complexity int

const (
	Low      Complexity = 1
	Medium   Complexity = 2
	High     Complexity = 3
	Critical Complexity = 4
)

// DefaultComplexity is assumed for action types not in the catalog.
const DefaultComplexity = Medium

// catalog maps action-type strings to their complexity class.
// Immutable reference data; extend here, never at call sites.
var catalog = map[string]Complexity{
	// Read-only lookups
	"search":           Low,
	"read_record":      Low,
	"list_records":     Low,
	"get_availability": Low,

	// Routine mutations
	"create_record":    Medium,
	"update_record":    Medium,
	"send_message":     Medium,
	"schedule_meeting": Medium,
	"create_task":      Medium,

	// Customer-visible or hard-to-undo
	"send_email":     High,
	"create_invoice": High,
	"update_deal":    High,
	"cancel_meeting": High,

	// Financial or destructive
	"send_payment":   Critical,
	"delete_record":  Critical,
	"sign_contract":  Critical,
	"issue_refund":   Critical,
	"export_dataset": Critical,
}

// requiredLevel maps a complexity class to the minimum maturity that may
// perform it without human approval.
var requiredLevel = map[Complexity]maturity.Level{
	Low:      maturity.Student,
	Medium:   maturity.Intern,
	High:     maturity.Supervised,
	Critical: maturity.Autonomous,
}

// ComplexityOf returns the complexity for an action type, defaulting to
// Medium for unknown types so a new integration is never silently treated
// as harmless.
func ComplexityOf(actionType string) Complexity {
	if c, ok := catalog[actionType]; ok {
		return c
	}
	return DefaultComplexity
}

// RequiredMaturity returns the minimum maturity level for a complexity.
func RequiredMaturity(c Complexity) maturity.Level {
	if lvl, ok := requiredLevel[c]; ok {
		return lvl
	}
	// Out-of-range complexity is treated as critical.
	return maturity.Autonomous
}

// Known reports whether the action type is in the catalog.
func Known(actionType string) bool {
	_, ok := catalog[actionType]
	return ok
}
