package sync

import (
	"sort"
	"strings"
	"time"
)

// DefaultTolerance is the time-proximity window for heuristic matching.
const DefaultTolerance = 60 * time.Second

const (
	defaultTitleField = "title"
	defaultTimeField  = "start_time"
)

// Matcher pairs internal and external records: by externalId first, then
// heuristically by entity type, fuzzy title, and time proximity.
type Matcher struct {
	Tolerance  time.Duration
	TitleField string
	TimeField  string
}

func NewMatcher() Matcher {
	return Matcher{
		Tolerance:  DefaultTolerance,
		TitleField: defaultTitleField,
		TimeField:  defaultTimeField,
	}
}

type Pair struct {
	Internal Entity
	External Entity
}

type MatchSet struct {
	Pairs             []Pair
	UnmatchedInternal []Entity
	UnmatchedExternal []Entity
}

// Match builds the match set for one data type. Output ordering is
// deterministic: every slice is sorted by time-like field ascending so
// retried and partial passes are reproducible.
func (m Matcher) Match(internal, external []Entity) MatchSet {
	internal = m.sorted(internal)
	external = m.sorted(external)

	usedExternal := make([]bool, len(external))
	var set MatchSet

	byExternalID := make(map[string]int, len(external))
	for i, e := range external {
		if e.ExternalID != "" {
			byExternalID[e.ExternalID] = i
		}
	}

	remainingInternal := make([]Entity, 0, len(internal))
	for _, in := range internal {
		if in.ExternalID != "" {
			if idx, ok := byExternalID[in.ExternalID]; ok && !usedExternal[idx] {
				usedExternal[idx] = true
				set.Pairs = append(set.Pairs, Pair{Internal: in, External: external[idx]})
				continue
			}
		}
		remainingInternal = append(remainingInternal, in)
	}

	for _, in := range remainingInternal {
		matched := false
		for idx, ex := range external {
			if usedExternal[idx] {
				continue
			}
			if m.SameRecord(in, ex) {
				usedExternal[idx] = true
				set.Pairs = append(set.Pairs, Pair{Internal: in, External: ex})
				matched = true
				break
			}
		}
		if !matched {
			set.UnmatchedInternal = append(set.UnmatchedInternal, in)
		}
	}

	for idx, ex := range external {
		if !usedExternal[idx] {
			set.UnmatchedExternal = append(set.UnmatchedExternal, ex)
		}
	}

	sort.SliceStable(set.Pairs, func(i, j int) bool {
		return m.timeOf(set.Pairs[i].Internal).Before(m.timeOf(set.Pairs[j].Internal))
	})
	return set
}

// SameRecord reports whether two records describe the same real-world
// record without a shared externalId: same entity type, fuzzy-equal title,
// and time-like fields within the tolerance window.
func (m Matcher) SameRecord(a, b Entity) bool {
	if a.EntityType != b.EntityType {
		return false
	}
	if !fuzzyEqual(a.Field(m.titleField()), b.Field(m.titleField())) {
		return false
	}
	ta, tb := m.timeOf(a), m.timeOf(b)
	if ta.IsZero() || tb.IsZero() {
		return false
	}
	d := ta.Sub(tb)
	if d < 0 {
		d = -d
	}
	return d <= m.tolerance()
}

func (m Matcher) sorted(entities []Entity) []Entity {
	out := append([]Entity(nil), entities...)
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := m.timeOf(out[i]), m.timeOf(out[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		if a, b := out[i].Field(m.titleField()), out[j].Field(m.titleField()); a != b {
			return a < b
		}
		if out[i].ExternalID != out[j].ExternalID {
			return out[i].ExternalID < out[j].ExternalID
		}
		return out[i].InternalID < out[j].InternalID
	})
	return out
}

func (m Matcher) timeOf(e Entity) time.Time {
	if raw := e.Field(m.timeField()); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
	}
	return e.LastModified
}

func (m Matcher) tolerance() time.Duration {
	if m.Tolerance > 0 {
		return m.Tolerance
	}
	return DefaultTolerance
}

func (m Matcher) titleField() string {
	if m.TitleField != "" {
		return m.TitleField
	}
	return defaultTitleField
}

func (m Matcher) timeField() string {
	if m.TimeField != "" {
		return m.TimeField
	}
	return defaultTimeField
}

func fuzzyEqual(a, b string) bool {
	return normalizeTitle(a) != "" && normalizeTitle(a) == normalizeTitle(b)
}

func normalizeTitle(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
