// Package access implements the access-control evaluator applied to every
// read (and every write) that leaves or enters the core.
//
// Policies are combined with logical OR:
//   - Owner: the actor owns the row.
//   - Site: the actor is an INVESTIGATOR or ANALYST assigned to the row's site.
//   - Admin: the actor is an ADMIN.
//
// The evaluator is a pure function of the actor context and the row scope.
// It carries no ambient state and cannot be bypassed by choosing a different
// entry point: the engine calls it at each read site.
package access

import (
	"github.com/roach88/diarystore/internal/record"
)

// Scoped is implemented by every row type the evaluator filters.
type Scoped interface {
	AccessScope() record.Scope
}

// Rule names the policy that granted access.
type Rule string

const (
	RuleNone  Rule = ""
	RuleOwner Rule = "owner"
	RuleSite  Rule = "site"
	RuleAdmin Rule = "admin"
)

// Evaluate returns the first policy that grants actor access to scope, or
// RuleNone. An actor without an id or with an unknown role matches nothing.
func Evaluate(actor record.ActorContext, scope record.Scope) Rule {
	if actor.ActorID == "" || !actor.Role.Valid() {
		return RuleNone
	}
	if actor.Role == record.RoleAdmin {
		return RuleAdmin
	}
	if scope.OwnerID != "" && actor.ActorID == scope.OwnerID {
		return RuleOwner
	}
	if (actor.Role == record.RoleInvestigator || actor.Role == record.RoleAnalyst) && actor.HasSite(scope.SiteID) {
		return RuleSite
	}
	return RuleNone
}

// CanRead reports whether actor may see row.
func CanRead[T Scoped](actor record.ActorContext, row T) bool {
	return Evaluate(actor, row.AccessScope()) != RuleNone
}

// Filter returns the rows actor may see, preserving order. Rows that match
// no policy are dropped entirely.
func Filter[T Scoped](actor record.ActorContext, rows []T) []T {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		if CanRead(actor, row) {
			out = append(out, row)
		}
	}
	return out
}
