// Package deconflict turns an advisory review of a group into a validated verdict and
// then into the intent the mutator applies.
package deconflict

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agenthands/canon/internal/core/advisory"
	"github.com/agenthands/canon/internal/core/model"
	"github.com/sirupsen/logrus"
)

type Deconflictor struct {
	Reviewer advisory.Reviewer
	Logger   *logrus.Logger
}

func NewDeconflictor(reviewer advisory.Reviewer, logger *logrus.Logger) *Deconflictor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Deconflictor{Reviewer: reviewer, Logger: logger}
}

// ReviewMembers lists what the oracle sees of g, in member order.
func ReviewMembers(g *model.Group) []model.ReviewMember {
	out := make([]model.ReviewMember, len(g.Members))
	for i, m := range g.Members {
		out[i] = model.ReviewMember{Name: m.CanonicalName, ArticleCount: m.ArticleCount, MentionDays: m.MentionDays}
	}
	return out
}

// Review asks the oracle about g and validates the answer. It never fails: an unusable
// answer becomes the safe default.
func (d *Deconflictor) Review(ctx context.Context, g *model.Group) model.Verdict {
	review, err := d.Reviewer.Review(ctx, ReviewMembers(g))
	v := ParseVerdict(g, review, err)
	if v.Fallback {
		d.Logger.WithError(v.Cause).WithFields(logrus.Fields{
			"country": g.Country,
			"group":   strings.Join(g.IDs(), ","),
		}).Warn("advisory review unusable, applying safe default")
	}
	return v
}

// ParseVerdict converts a raw review into a verdict. Rules, in order: an error or a
// missing same_event gives the safe default; a split with at least one valid subgroup
// wins; same_event with a best name other than the anchor's is a rename; same_event
// otherwise confirms and its absence rejects.
func ParseVerdict(g *model.Group, review *model.Review, err error) model.Verdict {
	if err != nil {
		if !errors.Is(err, model.ErrOracleUnavailable) && !errors.Is(err, model.ErrMalformedVerdict) {
			err = fmt.Errorf("%w: %w", model.ErrOracleUnavailable, err)
		}
		return safeDefault(err)
	}
	if review == nil || review.SameEvent == nil {
		return safeDefault(fmt.Errorf("%w: same_event missing", model.ErrMalformedVerdict))
	}

	if review.ShouldSplit && len(review.SplitGroups) > 0 {
		if splits := cleanSplits(review.SplitGroups, len(g.Members)); len(splits) > 0 {
			return model.Verdict{Kind: model.VerdictSplit, Splits: splits, Reasoning: review.Reasoning}
		}
	}

	if !*review.SameEvent {
		return model.Verdict{Kind: model.VerdictReject, Reasoning: review.Reasoning}
	}
	if review.BestCanonicalName != nil {
		best := strings.TrimSpace(*review.BestCanonicalName)
		if best != "" && best != g.Anchor().CanonicalName {
			return model.Verdict{Kind: model.VerdictRename, BestName: best, Reasoning: review.Reasoning}
		}
	}
	return model.Verdict{Kind: model.VerdictConfirm, Reasoning: review.Reasoning}
}

func safeDefault(cause error) model.Verdict {
	return model.Verdict{Kind: model.VerdictConfirm, Fallback: true, Cause: cause}
}

// cleanSplits keeps in-range 1-based positions not claimed by an earlier subgroup and
// drops subgroups left empty.
func cleanSplits(in []model.SplitGroup, n int) []model.SplitGroup {
	claimed := make(map[int]bool)
	var out []model.SplitGroup
	for _, sg := range in {
		var keep []int
		for _, p := range sg.Positions() {
			if p < 1 || p > n || claimed[p] {
				continue
			}
			claimed[p] = true
			keep = append(keep, p)
		}
		if len(keep) == 0 {
			continue
		}
		out = append(out, model.SplitGroup{MemberIndices: keep, CanonicalName: strings.TrimSpace(sg.CanonicalName)})
	}
	return out
}

// Resolve decides what the group should look like after this pass.
func Resolve(g *model.Group, v model.Verdict) model.Intent {
	anchor := g.Anchor()
	intent := model.Intent{GroupIDs: g.IDs(), Fallback: v.Fallback}

	switch v.Kind {
	case model.VerdictReject:
		intent.Kind = model.IntentKeep
	case model.VerdictSplit:
		intent.Kind = model.IntentSplit
		for _, sg := range v.Splits {
			sub := model.Subgroup{CanonicalName: sg.CanonicalName}
			for _, p := range sg.MemberIndices {
				sub.MemberIDs = append(sub.MemberIDs, g.Members[p-1].ID)
			}
			intent.Subgroups = append(intent.Subgroups, sub)
		}
	case model.VerdictRename:
		if x := MatchName(g, anchor, v.BestName); x != nil {
			intent.Kind = model.IntentRename
			intent.MasterID = x.ID
			intent.Name = v.BestName
			return intent
		}
		// No member carries the name: consolidate without inventing one.
		intent.Kind = model.IntentConsolidate
		intent.MasterID = anchor.ID
		intent.Name = anchor.CanonicalName
	default:
		intent.Kind = model.IntentConsolidate
		intent.MasterID = anchor.ID
		intent.Name = anchor.CanonicalName
	}
	return intent
}

// MatchName finds the member named name: exact match first, then a case and whitespace
// insensitive match preferring the anchor. Ties go to master-selection order.
func MatchName(g *model.Group, anchor *model.CanonicalEvent, name string) *model.CanonicalEvent {
	ranked := model.Ranked(g.Members)
	if anchor != nil && anchor.CanonicalName == name {
		return anchor
	}
	for _, m := range ranked {
		if m.CanonicalName == name {
			return m
		}
	}
	norm := model.NormalizeName(name)
	if anchor != nil && model.NormalizeName(anchor.CanonicalName) == norm {
		return anchor
	}
	for _, m := range ranked {
		if model.NormalizeName(m.CanonicalName) == norm {
			return m
		}
	}
	return nil
}
