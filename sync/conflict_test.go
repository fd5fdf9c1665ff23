package sync

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/YIKHLEF/ClinicBoost-sub004/provider"
)

func conflictPair(internalVal, externalVal string, internalMod, externalMod time.Time) Pair {
	return Pair{
		Internal: Entity{
			InternalID:   "apt-1",
			ExternalID:   "ext-1",
			EntityType:   "appointment",
			Fields:       map[string]string{"title": internalVal},
			LastModified: internalMod,
			Origin:       OriginInternal,
		},
		External: Entity{
			ExternalID:   "ext-1",
			EntityType:   "appointment",
			Fields:       map[string]string{"title": externalVal},
			LastModified: externalMod,
			Origin:       OriginExternal,
		},
	}
}

func TestDiffFields(t *testing.T) {
	internal := Entity{Fields: map[string]string{"title": "A", "notes": "same", "room": "2"}}
	external := Entity{Fields: map[string]string{"title": "B", "notes": "same", "status": "booked"}}

	got := DiffFields(internal, external)
	want := []string{"room", "status", "title"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("diff fields mismatch (-want +got):\n%s", diff)
	}
}

func TestDetectIdenticalPair(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	pair := conflictPair("A", "A", at, at)
	if c := NewResolver().Detect("cal-primary", pair); c != nil {
		t.Fatalf("expected no conflict, got %+v", c)
	}
}

func TestApplyPolicyMatrix(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	cases := []struct {
		name         string
		policy       provider.ConflictPolicy
		internalMod  time.Time
		externalMod  time.Time
		wantInternal string
		wantExternal string
	}{
		{"merge newer external wins", provider.PolicyMerge, t1, t2, "B", ""},
		{"merge newer internal wins", provider.PolicyMerge, t2, t1, "", "A"},
		{"merge tie goes internal", provider.PolicyMerge, t1, t1, "", "A"},
		{"internal wins pushes out", provider.PolicyInternalWins, t1, t2, "", "A"},
		{"external wins writes in", provider.PolicyExternalWins, t2, t1, "B", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewResolver()
			c := r.Detect("cal-primary", conflictPair("A", "B", tc.internalMod, tc.externalMod))
			if c == nil {
				t.Fatal("expected a conflict")
			}
			out := r.Apply(c, tc.policy)
			if got := out.InternalChanges["title"]; got != tc.wantInternal {
				t.Fatalf("internal change = %q, want %q", got, tc.wantInternal)
			}
			if got := out.ExternalChanges["title"]; got != tc.wantExternal {
				t.Fatalf("external change = %q, want %q", got, tc.wantExternal)
			}
			if !c.Resolved {
				t.Fatal("conflict not marked resolved")
			}
		})
	}
}

func TestManualPolicyParksConflict(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r := NewResolver()
	c := r.Detect("cal-primary", conflictPair("A", "B", at, at.Add(time.Hour)))
	out := r.Apply(c, provider.PolicyManual)
	if out.InternalChanges != nil || out.ExternalChanges != nil {
		t.Fatalf("manual policy produced writes: %+v", out)
	}
	if c.Resolved {
		t.Fatal("manual conflict should stay unresolved")
	}

	pending := r.Pending()
	if len(pending) != 1 || pending[0].ID != c.ID {
		t.Fatalf("pending = %+v", pending)
	}

	resolved, out, err := r.Resolve(c.ID, ResolutionExternalWins)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !resolved.Resolved || resolved.Resolution != ResolutionExternalWins {
		t.Fatalf("resolved conflict = %+v", resolved)
	}
	if out.InternalChanges["title"] != "B" {
		t.Fatalf("internal change = %q, want B", out.InternalChanges["title"])
	}
	if len(r.Pending()) != 0 {
		t.Fatal("conflict still pending after resolve")
	}
}

func TestResolveUnknownConflict(t *testing.T) {
	_, _, err := NewResolver().Resolve("nope", ResolutionMerge)
	if !errors.Is(err, ErrConflictNotFound) {
		t.Fatalf("err = %v, want ErrConflictNotFound", err)
	}
}
