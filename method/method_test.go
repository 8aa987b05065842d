package method

import (
	"context"
	"testing"

	"github.com/opensrf-go/opensrf/middleware"
)

func noop(ctx context.Context, d *middleware.Dispatch) *middleware.Dispatch { return d }

func TestParamCountMatches(t *testing.T) {
	cases := []struct {
		pc    ParamCount
		count int
		want  bool
	}{
		{ParamCount{Kind: Any}, 7, true},
		{ParamCount{Kind: Zero}, 0, true},
		{ParamCount{Kind: Zero}, 1, false},
		{ParamCount{Kind: Exactly, N: 2}, 2, true},
		{ParamCount{Kind: Exactly, N: 2}, 3, false},
		{ParamCount{Kind: AtLeast, N: 2}, 5, true},
		{ParamCount{Kind: AtLeast, N: 2}, 1, false},
		{ParamCount{Kind: RangeCount, Lo: 1, Hi: 3}, 2, true},
		{ParamCount{Kind: RangeCount, Lo: 1, Hi: 3}, 4, false},
	}
	for _, c := range cases {
		if got := c.pc.Matches(c.count); got != c.want {
			t.Fatalf("ParamCount %+v Matches(%d) = %v, want %v", c.pc, c.count, got, c.want)
		}
	}
}

func TestRegistryLookupFirstMatchWins(t *testing.T) {
	methods := []*Method{
		{APISpec: "opensrf.private.auto", ParamCount: ParamCount{Kind: Any}, Handler: noop},
		{APISpec: "opensrf.private.auto.special", ParamCount: ParamCount{Kind: Any}, Handler: noop},
	}
	reg, err := NewRegistry(methods)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	m, ok := reg.Lookup("opensrf.private.auto.special")
	if !ok {
		t.Fatal("expected a match")
	}
	if m != methods[0] {
		t.Fatalf("expected first pattern to win (not anchored), got %q", m.APISpec)
	}
}

func TestRegistryLookupCaches(t *testing.T) {
	methods := []*Method{
		{APISpec: "^opensrf.rspublic.echo$", ParamCount: ParamCount{Kind: Any}, Handler: noop},
	}
	reg, err := NewRegistry(methods)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	m1, ok := reg.Lookup("opensrf.rspublic.echo")
	if !ok {
		t.Fatal("expected a match")
	}
	if _, cached := reg.known["opensrf.rspublic.echo"]; !cached {
		t.Fatal("expected lookup to populate the cache")
	}
	m2, _ := reg.Lookup("opensrf.rspublic.echo")
	if m1 != m2 {
		t.Fatal("expected cached lookup to return the same method")
	}
}

func TestRegistryLookupNotFound(t *testing.T) {
	reg, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, ok := reg.Lookup("opensrf.nosuch.thing"); ok {
		t.Fatal("expected no match")
	}
}
