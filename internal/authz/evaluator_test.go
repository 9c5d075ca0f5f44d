package authz

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func policy(code string, effect Effect, actions, resources []string, condition string) Policy {
	return RawPolicy{
		ID:        uuid.New(),
		TenantID:  uuid.New(),
		Code:      code,
		Effect:    effect,
		Actions:   actions,
		Resources: resources,
		Condition: json.RawMessage(condition),
	}.Parse()
}

func TestEvaluateNoCandidates(t *testing.T) {
	d := Evaluate(RequestContext{}, "read", "reports", nil)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyNoMatchingPolicy, d.Reason)
}

func TestEvaluateUnconditionalAllow(t *testing.T) {
	ps := []Policy{policy("finance-team", EffectAllow, []string{"read"}, []string{"reports"}, `{}`)}

	d := Evaluate(RequestContext{}, "read", "reports", ps)
	assert.True(t, d.Allowed)
	assert.Equal(t, "finance-team", d.PolicyCode)

	// An action outside the policy's list never matches.
	d = Evaluate(RequestContext{}, "delete", "reports", ps)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyNoMatchingPolicy, d.Reason)
}

func TestEvaluateWildcards(t *testing.T) {
	ps := []Policy{policy("all-access", EffectAllow, []string{"*"}, []string{"*"}, `{}`)}

	d := Evaluate(RequestContext{}, "anything", "at-all", ps)
	assert.True(t, d.Allowed)
}

func TestEvaluateDenyPrecedence(t *testing.T) {
	ps := []Policy{
		policy("allow-everyone", EffectAllow, []string{"read"}, []string{"reports"}, `{}`),
		policy("deny-everyone", EffectDeny, []string{"read"}, []string{"reports"}, `{}`),
		policy("allow-again", EffectAllow, []string{"*"}, []string{"*"}, `{}`),
	}

	// One matching DENY with a true condition beats any number of ALLOWs,
	// regardless of ordering.
	d := Evaluate(RequestContext{}, "read", "reports", ps)
	assert.False(t, d.Allowed)
	assert.Equal(t, "deny-everyone", d.PolicyCode)
}

func TestEvaluateOffNetworkDeny(t *testing.T) {
	// The off-network shape: unconditional ALLOW plus a DENY listing the approved
	// corporate range that fires for clients outside it.
	ps := []Policy{
		policy("finance-team", EffectAllow, []string{"read"}, []string{"reports"}, `{}`),
		policy("off-network", EffectDeny, []string{"read"}, []string{"reports"},
			`{"allowed_ip_ranges": ["203.0.113.0/24"]}`),
	}

	d := Evaluate(ctxWith(CtxClientIP, "198.51.100.5"), "read", "reports", ps)
	assert.False(t, d.Allowed)
	assert.Equal(t, "off-network", d.PolicyCode)

	d = Evaluate(ctxWith(CtxClientIP, "203.0.113.10"), "read", "reports", ps)
	assert.True(t, d.Allowed)
	assert.Equal(t, "finance-team", d.PolicyCode)
}

func TestEvaluateConditionNotMet(t *testing.T) {
	ps := []Policy{
		policy("mfa-only", EffectAllow, []string{"read"}, []string{"reports"}, `{"mfa_required": true}`),
	}

	d := Evaluate(RequestContext{}, "read", "reports", ps)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyConditionNotMet, d.Reason)

	d = Evaluate(ctxWith(CtxMFAPresent, true), "read", "reports", ps)
	assert.True(t, d.Allowed)
}

func TestEvaluateFirstSatisfiedAllowWins(t *testing.T) {
	ps := []Policy{
		policy("strict", EffectAllow, []string{"read"}, []string{"reports"}, `{"mfa_required": true}`),
		policy("lenient", EffectAllow, []string{"read"}, []string{"reports"}, `{}`),
	}

	d := Evaluate(RequestContext{}, "read", "reports", ps)
	assert.True(t, d.Allowed)
	assert.Equal(t, "lenient", d.PolicyCode)
}

func TestEvaluateIsTotal(t *testing.T) {
	// Every combination yields a verdict, broken policies included.
	ps := []Policy{
		policy("broken", EffectAllow, []string{"*"}, []string{"*"}, `{"not_a_predicate": 1}`),
		policy("broken-deny", EffectDeny, []string{"*"}, []string{"*"}, `{"nor_this": 1}`),
	}
	for _, action := range []string{"read", "write", ""} {
		for _, resource := range []string{"reports", ""} {
			d := Evaluate(RequestContext{}, action, resource, ps)
			assert.False(t, d.Allowed)
			assert.Equal(t, DenyConditionNotMet, d.Reason)
		}
	}
}
