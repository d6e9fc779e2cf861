// Package mutate plans and applies the graph surgery that makes a group match its intent.
package mutate

import (
	"fmt"
	"sort"

	"github.com/agenthands/canon/internal/core/model"
)

// Plan computes the ops that turn the snapshot into intent. Only differences from the
// snapshot are emitted, so an already consolidated group yields an empty plan.
func Plan(country string, intent model.Intent, snap *model.Snapshot) (*model.MutationPlan, error) {
	plan := &model.MutationPlan{Country: country, GroupIDs: intent.GroupIDs, Intent: intent}
	b := newBuilder(snap)

	switch intent.Kind {
	case model.IntentKeep:
	case model.IntentConsolidate, model.IntentRename:
		if err := b.family(intent.GroupIDs, intent.MasterID, intent.Name); err != nil {
			return nil, err
		}
	case model.IntentSplit:
		for _, sub := range intent.Subgroups {
			master, name, err := b.subMaster(sub)
			if err != nil {
				return nil, err
			}
			if err := b.family(sub.MemberIDs, master, name); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unsupported intent %s", intent.Kind)
	}

	plan.Ops = b.ops
	return plan, nil
}

// builder emits ops and replays each one on a private copy of the snapshot, so later
// decisions see the effect of earlier ops.
type builder struct {
	state map[string]*model.CanonicalEvent
	ops   []model.Op
}

func newBuilder(snap *model.Snapshot) *builder {
	state := make(map[string]*model.CanonicalEvent, len(snap.Events))
	for id, e := range snap.Events {
		state[id] = e.Clone()
	}
	return &builder{state: state}
}

func (b *builder) emit(op model.Op) {
	b.ops = append(b.ops, op)
	// Every op references ids looked up in state first, so replay cannot fail.
	_ = model.ApplyOps(b.state, []model.Op{op})
}

func (b *builder) lookup(id string) (*model.CanonicalEvent, error) {
	e, ok := b.state[id]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s not in snapshot", model.ErrInvariantViolation, model.ErrUnknownEvent, id)
	}
	return e, nil
}

func (b *builder) hasChildren(id string) bool {
	for _, e := range b.state {
		if e.MasterEventID != nil && *e.MasterEventID == id {
			return true
		}
	}
	return false
}

// family roots members at master and gives master name. Demoted masters are flattened
// onto master, then stray members are pointed at it, then master is promoted.
func (b *builder) family(memberIDs []string, master, name string) error {
	x, err := b.lookup(master)
	if err != nil {
		return err
	}
	ids := append([]string(nil), memberIDs...)
	sort.Strings(ids)

	members := make([]*model.CanonicalEvent, 0, len(ids))
	for _, id := range ids {
		m, err := b.lookup(id)
		if err != nil {
			return err
		}
		members = append(members, m)
	}

	// Names are collected before any op so a later SetNames sees the old ones.
	var names []string
	for _, m := range members {
		names = append(names, m.CanonicalName)
	}
	oldName := x.CanonicalName

	for _, m := range members {
		if m.ID == master || !m.IsMaster() {
			continue
		}
		b.emit(model.SetMaster(m.ID, model.StringPtr(master)))
		if b.hasChildren(m.ID) {
			b.emit(model.Reparent(m.ID, master, master))
		}
	}
	for _, m := range members {
		if m.ID == master || model.SamePointer(m.MasterEventID, &master) {
			continue
		}
		b.emit(model.SetMaster(m.ID, model.StringPtr(master)))
	}
	if !x.IsMaster() {
		b.emit(model.SetMaster(master, nil))
	}

	if name == "" {
		name = oldName
	}
	alts := model.AppendNames(x.AlternativeNames, name, oldName)
	alts = model.AppendNames(alts, name, names...)
	if name != x.CanonicalName || !sameNames(alts, x.AlternativeNames) {
		b.emit(model.SetNames(master, name, alts))
	}
	return nil
}

// subMaster picks the member carrying the subgroup's name, exact then normalized, else the
// top-ranked member. A name no member carries is not applied.
func (b *builder) subMaster(sub model.Subgroup) (string, string, error) {
	var members []*model.CanonicalEvent
	for _, id := range sub.MemberIDs {
		m, err := b.lookup(id)
		if err != nil {
			return "", "", err
		}
		members = append(members, m)
	}
	if len(members) == 0 {
		return "", "", fmt.Errorf("%w: empty subgroup", model.ErrInvariantViolation)
	}

	ranked := model.Ranked(members)
	if sub.CanonicalName != "" {
		for _, m := range ranked {
			if m.CanonicalName == sub.CanonicalName {
				return m.ID, m.CanonicalName, nil
			}
		}
		norm := model.NormalizeName(sub.CanonicalName)
		for _, m := range ranked {
			if model.NormalizeName(m.CanonicalName) == norm {
				return m.ID, sub.CanonicalName, nil
			}
		}
	}
	return ranked[0].ID, ranked[0].CanonicalName, nil
}

func sameNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
