package problem

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestExitCodes(t *testing.T) {
	cases := []struct {
		cat  Category
		want int
	}{
		{CategoryConfig, 10},
		{CategoryPolicy, 20},
		{CategoryRuntime, 30},
		{CategoryDependency, 40},
		{CategoryInternal, 50},
		{Category("unknown"), 50},
	}
	for _, c := range cases {
		if got := ExitCode(c.cat); got != c.want {
			t.Errorf("ExitCode(%s) = %d, want %d", c.cat, got, c.want)
		}
	}
}

func TestErrorString(t *testing.T) {
	p := New("BUDGET_EXCEEDED", CategoryPolicy, "window spend over cap")
	want := "BUDGET_EXCEEDED (policy): window spend over cap"
	if p.Error() != want {
		t.Fatalf("Error() = %q, want %q", p.Error(), want)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	p := New("NO_ACTIVE_CONTRACT", CategoryPolicy, "no active contract for feature").
		WithDetails(map[string]any{"feature_id": "campaign_ctr"}).
		WithRemediation("run the batch pipeline to issue one")

	var decoded Problem
	if err := json.Unmarshal([]byte(p.JSON()), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Code != p.Code || decoded.Category != p.Category || decoded.Remediation != p.Remediation {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
	if decoded.Details["feature_id"] != "campaign_ctr" {
		t.Fatalf("details: %+v", decoded.Details)
	}
}

func TestJSONOmitsEmptyOptionalFields(t *testing.T) {
	out := New("X", CategoryRuntime, "m").JSON()
	if strings.Contains(out, "details") || strings.Contains(out, "remediation") {
		t.Fatalf("empty optional fields must be omitted:\n%s", out)
	}
}

func TestFromUnwrapsThroughChain(t *testing.T) {
	p := New("AUDIT_CHAIN_BROKEN", CategoryRuntime, "hash mismatch at line 3")
	wrapped := fmt.Errorf("verify: %w", p)
	got := From(wrapped)
	if got != p {
		t.Fatalf("From must recover the wrapped problem, got %+v", got)
	}
}

func TestFromWrapsPlainErrors(t *testing.T) {
	got := From(errors.New("disk full"))
	if got.Code != "INTERNAL_ERROR" || got.Category != CategoryInternal {
		t.Fatalf("plain error must become internal: %+v", got)
	}
	if got.Message != "disk full" {
		t.Fatalf("message: %q", got.Message)
	}
}
