package mutate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agenthands/canon/internal/core/model"
	"github.com/agenthands/canon/internal/store"
	"github.com/sirupsen/logrus"
)

// Validate replays plan on a copy of snap and rejects it if any event would point at
// itself, at a child, at an unknown event or across countries.
func Validate(plan *model.MutationPlan, snap *model.Snapshot) error {
	if plan.Empty() {
		return nil
	}
	sim := make(map[string]*model.CanonicalEvent, len(snap.Events))
	for id, e := range snap.Events {
		sim[id] = e.Clone()
	}
	for _, op := range plan.Ops {
		if _, ok := sim[op.EventID]; !ok {
			return fmt.Errorf("%w: %w: %s", model.ErrInvariantViolation, model.ErrUnknownEvent, op.EventID)
		}
		if op.MasterID != nil {
			if _, ok := sim[*op.MasterID]; !ok {
				return fmt.Errorf("%w: %w: %s", model.ErrInvariantViolation, model.ErrUnknownEvent, *op.MasterID)
			}
		}
	}
	if err := model.ApplyOps(sim, plan.Ops); err != nil {
		return fmt.Errorf("%w: %w", model.ErrInvariantViolation, err)
	}

	for id, e := range sim {
		if plan.Country != "" && e.InitiatingCountry != plan.Country {
			return fmt.Errorf("%w: %s belongs to %s, not %s", model.ErrInvariantViolation, id, e.InitiatingCountry, plan.Country)
		}
		if e.MasterEventID == nil {
			continue
		}
		mid := *e.MasterEventID
		if mid == id {
			return fmt.Errorf("%w: %s points to itself", model.ErrInvariantViolation, id)
		}
		m, ok := sim[mid]
		if !ok {
			// Masters outside the snapshot are only legal if the pointer predates the plan.
			if !model.SamePointer(e.MasterEventID, snap.Events[id].MasterEventID) {
				return fmt.Errorf("%w: %w: %s", model.ErrInvariantViolation, model.ErrUnknownEvent, mid)
			}
			continue
		}
		if m.MasterEventID != nil {
			return fmt.Errorf("%w: %s -> %s -> %s", model.ErrInvariantViolation, id, mid, *m.MasterEventID)
		}
	}
	return nil
}

// Outcome is what happened to one group's plan.
type Outcome struct {
	Plan     *model.MutationPlan
	Applied  bool
	Attempts int
}

type Mutator struct {
	Store  store.Store
	Logger *logrus.Logger
}

func NewMutator(s store.Store, logger *logrus.Logger) *Mutator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Mutator{Store: s, Logger: logger}
}

// Execute plans intent against snap, validates the plan and applies it in one
// transaction. A failed transaction is retried once. In dry run the plan is only logged.
func (m *Mutator) Execute(ctx context.Context, country string, intent model.Intent, snap *model.Snapshot, dryRun bool) (*Outcome, error) {
	plan, err := Plan(country, intent, snap)
	if err != nil {
		return nil, err
	}
	if err := Validate(plan, snap); err != nil {
		return &Outcome{Plan: plan}, err
	}

	log := m.Logger.WithFields(logrus.Fields{
		"country": country,
		"group":   strings.Join(intent.GroupIDs, ","),
		"intent":  intent.Kind.String(),
		"ops":     len(plan.Ops),
	})
	out := &Outcome{Plan: plan}
	if plan.Empty() {
		log.Debug("group already consistent")
		return out, nil
	}
	if dryRun {
		log.WithField("plan", plan.String()).Info("dry run, plan not applied")
		return out, nil
	}

	for out.Attempts < 2 {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out.Attempts++
		err = m.Store.Apply(ctx, plan)
		if err == nil {
			out.Applied = true
			log.WithField("plan", plan.String()).Debug("plan applied")
			return out, nil
		}
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		if permanent(err) {
			return out, fmt.Errorf("%w: %w", model.ErrInvariantViolation, err)
		}
		log.WithError(err).WithField("attempt", out.Attempts).Warn("apply failed")
	}
	return out, fmt.Errorf("%w: %w", model.ErrPersistence, err)
}

// permanent errors would fail the same way on retry.
func permanent(err error) bool {
	return errors.Is(err, model.ErrInvariantViolation) ||
		errors.Is(err, model.ErrUnknownEvent) ||
		errors.Is(err, store.ErrCountryMismatch)
}
