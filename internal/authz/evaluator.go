package authz

// Deny reasons surfaced alongside a decision. A denying policy's own code
// takes their place when a DENY condition fired.
const (
	DenyNoMatchingPolicy = "no-matching-policy"
	DenyConditionNotMet  = "condition-not-met"
)

// Decision is the evaluator's verdict. The function is total: every
// (action, resource, context) triple yields either ALLOW or DENY.
type Decision struct {
	Allowed bool
	// PolicyCode names the policy that carried the decision, for audit and
	// for the 403 surface.
	PolicyCode string
	// Reason is set on DENY when no specific policy fired.
	Reason string
}

// Evaluate runs the decision algorithm over the candidate policies:
//
//  1. keep policies whose action and resource lists match (either may
//     carry the "*" sentinel);
//  2. any DENY policy whose condition holds decides immediately — DENY
//     precedence is absolute;
//  3. no applicable ALLOW at all is a DENY;
//  4. the first ALLOW whose condition holds decides;
//  5. otherwise every condition failed: DENY.
func Evaluate(rctx RequestContext, action, resource string, candidates []Policy) Decision {
	var denySet, allowSet []Policy
	for _, p := range candidates {
		if !matches(p.Actions, action) || !matches(p.Resources, resource) {
			continue
		}
		if p.Effect == EffectDeny {
			denySet = append(denySet, p)
		} else {
			allowSet = append(allowSet, p)
		}
	}

	for _, p := range denySet {
		if p.Condition.Eval(rctx, true) {
			return Decision{Allowed: false, PolicyCode: p.Code}
		}
	}

	if len(allowSet) == 0 {
		return Decision{Allowed: false, Reason: DenyNoMatchingPolicy}
	}

	for _, p := range allowSet {
		if p.Condition.Eval(rctx, false) {
			return Decision{Allowed: true, PolicyCode: p.Code}
		}
	}

	return Decision{Allowed: false, Reason: DenyConditionNotMet}
}

func matches(list []string, value string) bool {
	for _, item := range list {
		if item == Wildcard || item == value {
			return true
		}
	}
	return false
}
