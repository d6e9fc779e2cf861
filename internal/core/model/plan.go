package model

import (
	"fmt"
	"strings"
)

type OpKind int

const (
	// OpSetMaster sets one event's master pointer (nil promotes it).
	OpSetMaster OpKind = iota
	// OpReparent moves every child of EventID except Except to MasterID.
	OpReparent
	// OpSetNames replaces an event's canonical name and alternative names.
	OpSetNames
)

func (k OpKind) String() string {
	switch k {
	case OpSetMaster:
		return "set_master"
	case OpReparent:
		return "reparent"
	case OpSetNames:
		return "set_names"
	default:
		return fmt.Sprintf("op(%d)", int(k))
	}
}

type Op struct {
	Kind         OpKind   `json:"kind"`
	EventID      string   `json:"event_id"`
	MasterID     *string  `json:"master_id,omitempty"`
	Except       string   `json:"except,omitempty"`
	Name         string   `json:"name,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
}

func SetMaster(id string, master *string) Op {
	return Op{Kind: OpSetMaster, EventID: id, MasterID: master}
}

func Reparent(from, to, except string) Op {
	return Op{Kind: OpReparent, EventID: from, MasterID: StringPtr(to), Except: except}
}

func SetNames(id, name string, alternatives []string) Op {
	return Op{Kind: OpSetNames, EventID: id, Name: name, Alternatives: alternatives}
}

func (o Op) String() string {
	switch o.Kind {
	case OpSetMaster:
		if o.MasterID == nil {
			return fmt.Sprintf("set_master %s -> NULL", o.EventID)
		}
		return fmt.Sprintf("set_master %s -> %s", o.EventID, *o.MasterID)
	case OpReparent:
		return fmt.Sprintf("reparent children of %s -> %s (except %s)", o.EventID, *o.MasterID, o.Except)
	case OpSetNames:
		return fmt.Sprintf("set_names %s = %q alternatives=%q", o.EventID, o.Name, o.Alternatives)
	default:
		return o.Kind.String()
	}
}

// MutationPlan is the ordered op list for one group, applied in one transaction.
type MutationPlan struct {
	Country  string   `json:"country"`
	GroupIDs []string `json:"group_ids"`
	Intent   Intent   `json:"intent"`
	Ops      []Op     `json:"ops"`
}

// ApplyOps replays ops in order against events, mutating them in place. A reparent only
// reaches the children present in events.
func ApplyOps(events map[string]*CanonicalEvent, ops []Op) error {
	for _, op := range ops {
		switch op.Kind {
		case OpSetMaster:
			e, ok := events[op.EventID]
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnknownEvent, op.EventID)
			}
			e.MasterEventID = nil
			if op.MasterID != nil {
				e.MasterEventID = StringPtr(*op.MasterID)
			}
		case OpReparent:
			for id, e := range events {
				if id == op.Except || e.MasterEventID == nil || *e.MasterEventID != op.EventID {
					continue
				}
				e.MasterEventID = StringPtr(*op.MasterID)
			}
		case OpSetNames:
			e, ok := events[op.EventID]
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnknownEvent, op.EventID)
			}
			e.CanonicalName = op.Name
			e.AlternativeNames = append([]string(nil), op.Alternatives...)
		default:
			return fmt.Errorf("unsupported op %s", op.Kind)
		}
	}
	return nil
}

func (p *MutationPlan) Empty() bool {
	return p == nil || len(p.Ops) == 0
}

func (p *MutationPlan) String() string {
	if p.Empty() {
		return "no-op"
	}
	lines := make([]string, len(p.Ops))
	for i, op := range p.Ops {
		lines[i] = op.String()
	}
	return strings.Join(lines, "; ")
}
