package store

import (
	"fmt"

	"github.com/agenthands/canon/internal/core/model"
)

type Violation struct {
	EventID string `json:"event_id" yaml:"event_id"`
	Reason  string `json:"reason" yaml:"reason"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.EventID, v.Reason)
}

// CheckInvariants reports every event whose master pointer breaks the one-level hierarchy:
// self pointers, dangling pointers, pointers to a child, and families spanning countries.
func CheckInvariants(events []*model.CanonicalEvent) []Violation {
	byID := make(map[string]*model.CanonicalEvent, len(events))
	for _, e := range events {
		byID[e.ID] = e
	}

	sorted := append([]*model.CanonicalEvent(nil), events...)
	model.SortByID(sorted)

	var out []Violation
	for _, e := range sorted {
		if e.MasterEventID == nil {
			continue
		}
		mid := *e.MasterEventID
		if mid == e.ID {
			out = append(out, Violation{EventID: e.ID, Reason: "points to itself"})
			continue
		}
		m, ok := byID[mid]
		if !ok {
			out = append(out, Violation{EventID: e.ID, Reason: fmt.Sprintf("master %s does not exist", mid)})
			continue
		}
		if m.MasterEventID != nil {
			out = append(out, Violation{EventID: e.ID, Reason: fmt.Sprintf("master %s is itself a child of %s", mid, *m.MasterEventID)})
		}
		if m.InitiatingCountry != e.InitiatingCountry {
			out = append(out, Violation{EventID: e.ID, Reason: fmt.Sprintf("master %s belongs to %s, not %s", mid, m.InitiatingCountry, e.InitiatingCountry)})
		}
	}
	return out
}
