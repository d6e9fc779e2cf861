package model

import (
	"sort"
	"strings"
	"time"
)

// CanonicalEvent is a deduplicated, possibly multi-day record of one real-world event.
// MasterEventID is a parent pointer capped at depth 1: a master never has a master.
type CanonicalEvent struct {
	ID                string         `json:"id"`
	CanonicalName     string         `json:"canonical_name"`
	AlternativeNames  []string       `json:"alternative_names,omitempty"`
	InitiatingCountry string         `json:"initiating_country"`
	FirstMentionDate  time.Time      `json:"first_mention_date"`
	LastMentionDate   time.Time      `json:"last_mention_date"`
	MasterEventID     *string        `json:"master_event_id,omitempty"`
	PrimaryCategories map[string]int `json:"primary_categories,omitempty"`
	PrimaryRecipients map[string]int `json:"primary_recipients,omitempty"`

	// Derived from the event's own mentions when loaded.
	ArticleCount int `json:"article_count"`
	MentionDays  int `json:"mention_days"`
}

func (e *CanonicalEvent) IsMaster() bool {
	return e.MasterEventID == nil
}

// Eligible reports whether the event satisfies the upstream contract for grouping.
func (e *CanonicalEvent) Eligible() bool {
	return e.InitiatingCountry != "" &&
		!e.FirstMentionDate.IsZero() &&
		!e.LastMentionDate.IsZero() &&
		e.MentionDays > 0
}

func (e *CanonicalEvent) Clone() *CanonicalEvent {
	if e == nil {
		return nil
	}
	c := *e
	if e.MasterEventID != nil {
		c.MasterEventID = StringPtr(*e.MasterEventID)
	}
	c.AlternativeNames = append([]string(nil), e.AlternativeNames...)
	c.PrimaryCategories = cloneCounts(e.PrimaryCategories)
	c.PrimaryRecipients = cloneCounts(e.PrimaryRecipients)
	return &c
}

// Summarize derives the span and counters from the event's own mentions.
func (e *CanonicalEvent) Summarize(mentions []Mention) {
	e.ArticleCount = 0
	e.MentionDays = 0
	e.FirstMentionDate = time.Time{}
	e.LastMentionDate = time.Time{}

	days := make(map[time.Time]struct{})
	for _, m := range mentions {
		if m.CanonicalEventID != e.ID {
			continue
		}
		d := Day(m.MentionDate)
		days[d] = struct{}{}
		e.ArticleCount += m.ArticleCount
		if e.FirstMentionDate.IsZero() || d.Before(e.FirstMentionDate) {
			e.FirstMentionDate = d
		}
		if e.LastMentionDate.IsZero() || d.After(e.LastMentionDate) {
			e.LastMentionDate = d
		}
	}
	e.MentionDays = len(days)
}

// Mention is one day's observation of a canonical event. It stays attached to the
// event it was recorded against, whatever happens to that event's master pointer.
type Mention struct {
	CanonicalEventID string    `json:"canonical_event_id"`
	MentionDate      time.Time `json:"mention_date"`
	DocIDs           []string  `json:"doc_ids"`
	ArticleCount     int       `json:"article_count"`
}

// Day truncates t to a UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayGap is the number of days between the nearer edges of the two inclusive spans,
// 0 when they overlap or touch.
func DayGap(a, b *CanonicalEvent) int {
	aFirst, aLast := Day(a.FirstMentionDate), Day(a.LastMentionDate)
	bFirst, bLast := Day(b.FirstMentionDate), Day(b.LastMentionDate)
	switch {
	case aLast.Before(bFirst):
		return int(bFirst.Sub(aLast).Hours() / 24)
	case bLast.Before(aFirst):
		return int(aFirst.Sub(bLast).Hours() / 24)
	default:
		return 0
	}
}

// Outranks orders events for master selection: more articles first, then the earlier
// first mention, then the smaller id.
func Outranks(a, b *CanonicalEvent) bool {
	if a.ArticleCount != b.ArticleCount {
		return a.ArticleCount > b.ArticleCount
	}
	if !a.FirstMentionDate.Equal(b.FirstMentionDate) {
		return a.FirstMentionDate.Before(b.FirstMentionDate)
	}
	return a.ID < b.ID
}

// NormalizeName folds case and whitespace so cosmetic variants compare equal.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// AppendNames appends names to an ordered set, skipping blanks, duplicates and any
// name equal to exclude.
func AppendNames(set []string, exclude string, names ...string) []string {
	seen := make(map[string]struct{}, len(set))
	out := make([]string, 0, len(set)+len(names))
	for _, n := range set {
		if n == "" || n == exclude {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	for _, n := range names {
		if n == "" || n == exclude {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func SortByID(events []*CanonicalEvent) {
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
}

func StringPtr(s string) *string {
	return &s
}

// SamePointer compares two nullable master pointers.
func SamePointer(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneCounts(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
