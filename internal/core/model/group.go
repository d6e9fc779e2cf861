package model

import "sort"

// Group is a connected component of events believed to denote the same real event.
// It lives for one pass and is never persisted.
type Group struct {
	Country     string            `json:"country"`
	Members     []*CanonicalEvent `json:"members"`
	Provisional *CanonicalEvent   `json:"provisional_master"`
}

// NewGroup sorts members by id and picks the provisional master.
func NewGroup(country string, members []*CanonicalEvent) *Group {
	sorted := append([]*CanonicalEvent(nil), members...)
	SortByID(sorted)
	g := &Group{Country: country, Members: sorted}
	g.Provisional = Ranked(sorted)[0]
	return g
}

func (g *Group) IDs() []string {
	ids := make([]string, len(g.Members))
	for i, m := range g.Members {
		ids[i] = m.ID
	}
	return ids
}

func (g *Group) Member(id string) *CanonicalEvent {
	for _, m := range g.Members {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// Anchor is the member the group is currently rooted at: the in-group master with the
// most in-group children, or the provisional master when the group has no family yet.
func (g *Group) Anchor() *CanonicalEvent {
	counts := make(map[string]int)
	for _, m := range g.Members {
		if m.MasterEventID != nil && g.Member(*m.MasterEventID) != nil {
			counts[*m.MasterEventID]++
		}
	}

	var best *CanonicalEvent
	for _, m := range Ranked(g.Members) {
		n := counts[m.ID]
		if n == 0 || !m.IsMaster() {
			continue
		}
		if best == nil || n > counts[best.ID] {
			best = m
		}
	}
	if best != nil {
		return best
	}
	return g.Provisional
}

// Refresh returns a copy of the group whose members carry the names and master pointers
// found in snap. Derived counters are kept from the original members.
func (g *Group) Refresh(snap *Snapshot) *Group {
	members := make([]*CanonicalEvent, 0, len(g.Members))
	for _, m := range g.Members {
		c := m.Clone()
		if cur, ok := snap.Events[m.ID]; ok {
			c.CanonicalName = cur.CanonicalName
			c.AlternativeNames = append([]string(nil), cur.AlternativeNames...)
			c.MasterEventID = nil
			if cur.MasterEventID != nil {
				c.MasterEventID = StringPtr(*cur.MasterEventID)
			}
		}
		members = append(members, c)
	}
	return NewGroup(g.Country, members)
}

// Ranked returns a copy of events in master-selection order.
func Ranked(events []*CanonicalEvent) []*CanonicalEvent {
	out := append([]*CanonicalEvent(nil), events...)
	sort.SliceStable(out, func(i, j int) bool { return Outranks(out[i], out[j]) })
	return out
}

// Snapshot is an explicit read of the rows one group mutation depends on: the members
// plus every event whose master is a member.
type Snapshot struct {
	Events map[string]*CanonicalEvent
}

func NewSnapshot(events []*CanonicalEvent) *Snapshot {
	s := &Snapshot{Events: make(map[string]*CanonicalEvent, len(events))}
	for _, e := range events {
		s.Events[e.ID] = e.Clone()
	}
	return s
}

// Pointers copies the master pointer of every event in the snapshot.
func (s *Snapshot) Pointers() map[string]*string {
	out := make(map[string]*string, len(s.Events))
	for id, e := range s.Events {
		if e.MasterEventID != nil {
			out[id] = StringPtr(*e.MasterEventID)
		} else {
			out[id] = nil
		}
	}
	return out
}

// ChildrenOf lists, sorted, the snapshot events whose master is id.
func (s *Snapshot) ChildrenOf(id string) []string {
	var out []string
	for cid, e := range s.Events {
		if e.MasterEventID != nil && *e.MasterEventID == id {
			out = append(out, cid)
		}
	}
	sort.Strings(out)
	return out
}
