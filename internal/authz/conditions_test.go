package authz

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ctxWith(kv ...any) RequestContext {
	rctx := RequestContext{}
	for i := 0; i+1 < len(kv); i += 2 {
		rctx[kv[i].(string)] = kv[i+1]
	}
	return rctx
}

func mustParse(t *testing.T, doc string) Condition {
	t.Helper()
	return ParseCondition(json.RawMessage(doc))
}

func TestEmptyConditionAlwaysTrue(t *testing.T) {
	for _, doc := range []string{"", "{}", "null"} {
		cond := mustParse(t, doc)
		assert.True(t, cond.Empty())
		assert.True(t, cond.Eval(RequestContext{}, false))
	}
}

func TestUnknownPredicateFailsClosed(t *testing.T) {
	cond := mustParse(t, `{"quantum_entangled": true}`)
	assert.False(t, cond.Eval(ctxWith(CtxMFAPresent, true), false))

	// One unknown key poisons the whole document, even alongside a
	// satisfied known predicate.
	cond = mustParse(t, `{"mfa_required": true, "quantum_entangled": true}`)
	assert.False(t, cond.Eval(ctxWith(CtxMFAPresent, true), false))
}

func TestMalformedDocumentFailsClosed(t *testing.T) {
	cond := mustParse(t, `{"mfa_required": `)
	assert.False(t, cond.Eval(RequestContext{}, false))
}

func TestMFARequired(t *testing.T) {
	cond := mustParse(t, `{"mfa_required": true}`)
	assert.True(t, cond.Eval(ctxWith(CtxMFAPresent, true), false))
	assert.False(t, cond.Eval(ctxWith(CtxMFAPresent, false), false))
	assert.False(t, cond.Eval(RequestContext{}, false)) // absent key

	// mfa_required=false imposes nothing.
	cond = mustParse(t, `{"mfa_required": false}`)
	assert.True(t, cond.Eval(RequestContext{}, false))
}

func TestDevicePosture(t *testing.T) {
	cond := mustParse(t, `{"device_posture": "managed"}`)
	assert.True(t, cond.Eval(ctxWith(CtxDevicePosture, "managed"), false))
	assert.False(t, cond.Eval(ctxWith(CtxDevicePosture, "byod"), false))
	assert.False(t, cond.Eval(RequestContext{}, false))
}

func TestAllowedIPRanges(t *testing.T) {
	cond := mustParse(t, `{"allowed_ip_ranges": ["10.0.0.0/16"]}`)

	assert.True(t, cond.Eval(ctxWith(CtxClientIP, "10.0.5.7"), false))
	assert.False(t, cond.Eval(ctxWith(CtxClientIP, "10.1.0.1"), false))
	assert.False(t, cond.Eval(ctxWith(CtxClientIP, "not-an-ip"), false))
	assert.False(t, cond.Eval(RequestContext{}, false))
}

func TestAllowedIPRangesInvertedForDeny(t *testing.T) {
	// An off-network DENY: the listed range is the approved network and the
	// condition fires when the client is outside it.
	cond := mustParse(t, `{"allowed_ip_ranges": ["203.0.113.0/24"]}`)

	assert.True(t, cond.Eval(ctxWith(CtxClientIP, "198.51.100.5"), true))
	assert.False(t, cond.Eval(ctxWith(CtxClientIP, "203.0.113.10"), true))
	// A missing address fails the predicate in both polarities.
	assert.False(t, cond.Eval(RequestContext{}, true))
}

func TestInvalidCIDRFailsClosed(t *testing.T) {
	cond := mustParse(t, `{"allowed_ip_ranges": ["10.0.0.0/99"]}`)
	assert.False(t, cond.Eval(ctxWith(CtxClientIP, "10.0.0.1"), false))
}

func TestGeoRestrictions(t *testing.T) {
	cond := mustParse(t, `{"geo_restrictions": ["BR", "PT"]}`)
	assert.True(t, cond.Eval(ctxWith(CtxGeo, "BR"), false))
	assert.True(t, cond.Eval(ctxWith(CtxGeo, "pt"), false))
	assert.False(t, cond.Eval(ctxWith(CtxGeo, "US"), false))
	assert.False(t, cond.Eval(RequestContext{}, false))
}

func TestScheduleWindowInclusiveBounds(t *testing.T) {
	cond := mustParse(t, `{"allowed_schedule": {
		"timezone": "America/Sao_Paulo",
		"windows": [{"days": ["MON","TUE","WED","THU","FRI"], "start": "07:00", "end": "22:00"}]
	}}`)

	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	// Monday 2026-03-02.
	at := func(h, m, s int) time.Time {
		return time.Date(2026, 3, 2, h, m, s, 0, loc)
	}

	assert.True(t, cond.Eval(ctxWith(CtxTimestamp, at(22, 0, 0)), false))
	assert.False(t, cond.Eval(ctxWith(CtxTimestamp, at(22, 0, 1)), false))
	assert.True(t, cond.Eval(ctxWith(CtxTimestamp, at(7, 0, 0)), false))
	assert.False(t, cond.Eval(ctxWith(CtxTimestamp, at(6, 59, 59)), false))

	// Saturday is not in the window.
	sat := time.Date(2026, 3, 7, 12, 0, 0, 0, loc)
	assert.False(t, cond.Eval(ctxWith(CtxTimestamp, sat), false))

	// The timezone translation matters: Monday 23:30 UTC is 20:30 in São
	// Paulo, inside the window.
	utc := time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC)
	assert.True(t, cond.Eval(ctxWith(CtxTimestamp, utc), false))

	// Missing timestamp fails closed.
	assert.False(t, cond.Eval(RequestContext{}, false))
}

func TestScheduleBadTimezoneFailsClosed(t *testing.T) {
	cond := mustParse(t, `{"allowed_schedule": {
		"timezone": "Mars/Olympus_Mons",
		"windows": [{"days": ["MON"], "start": "00:00", "end": "23:59"}]
	}}`)
	assert.False(t, cond.Eval(ctxWith(CtxTimestamp, time.Now()), false))
}

func TestDualApproval(t *testing.T) {
	cond := mustParse(t, `{"requires_dual_approval": true}`)
	assert.True(t, cond.Eval(ctxWith(CtxDualApproval, true), false))
	assert.False(t, cond.Eval(RequestContext{}, false))
}

func TestTierAndDepartment(t *testing.T) {
	cond := mustParse(t, `{"tier": "gold", "department": "finance"}`)
	assert.True(t, cond.Eval(ctxWith(CtxMembershipTier, "gold", CtxDepartment, "finance"), false))
	assert.False(t, cond.Eval(ctxWith(CtxMembershipTier, "gold"), false))
	assert.False(t, cond.Eval(ctxWith(CtxMembershipTier, "silver", CtxDepartment, "finance"), false))
}

func TestRiskLevelOrdering(t *testing.T) {
	cond := mustParse(t, `{"risk_level": "medium"}`)

	assert.False(t, cond.Eval(ctxWith(CtxRiskLevel, "low"), false))
	assert.True(t, cond.Eval(ctxWith(CtxRiskLevel, "medium"), false))
	assert.True(t, cond.Eval(ctxWith(CtxRiskLevel, "high"), false))
	assert.True(t, cond.Eval(ctxWith(CtxRiskLevel, "critical"), false))
	assert.False(t, cond.Eval(ctxWith(CtxRiskLevel, "weird"), false))
	assert.False(t, cond.Eval(RequestContext{}, false))

	// Unknown required level invalidates the document.
	cond = mustParse(t, `{"risk_level": "catastrophic"}`)
	assert.False(t, cond.Eval(ctxWith(CtxRiskLevel, "critical"), false))
}

func TestShortCircuitAND(t *testing.T) {
	cond := mustParse(t, `{"mfa_required": true, "department": "finance"}`)
	assert.True(t, cond.Eval(ctxWith(CtxMFAPresent, true, CtxDepartment, "finance"), false))
	assert.False(t, cond.Eval(ctxWith(CtxMFAPresent, true), false))
	assert.False(t, cond.Eval(ctxWith(CtxDepartment, "finance"), false))
}
