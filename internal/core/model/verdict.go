package model

import "fmt"

// ReviewMember is what the advisory oracle sees of one group member, in group order.
type ReviewMember struct {
	Name         string `json:"name"`
	ArticleCount int    `json:"article_count"`
	MentionDays  int    `json:"mention_days"`
}

// SplitGroup names a desired subgroup by 1-based positions in the submitted member list.
// Oracles answer with either key, so both are accepted.
type SplitGroup struct {
	MemberIndices []int  `json:"member_indices,omitempty"`
	Indices       []int  `json:"indices,omitempty"`
	CanonicalName string `json:"canonical_name"`
}

func (s SplitGroup) Positions() []int {
	if len(s.MemberIndices) > 0 {
		return s.MemberIndices
	}
	return s.Indices
}

// Review is the raw oracle answer. Pointer fields distinguish missing from zero.
type Review struct {
	SameEvent         *bool        `json:"same_event"`
	BestCanonicalName *string      `json:"best_canonical_name"`
	Reasoning         string       `json:"reasoning"`
	ShouldSplit       bool         `json:"should_split"`
	SplitGroups       []SplitGroup `json:"split_groups"`
}

type VerdictKind int

const (
	VerdictConfirm VerdictKind = iota
	VerdictRename
	VerdictSplit
	VerdictReject
)

func (k VerdictKind) String() string {
	switch k {
	case VerdictConfirm:
		return "confirm"
	case VerdictRename:
		return "rename"
	case VerdictSplit:
		return "split"
	case VerdictReject:
		return "reject"
	default:
		return fmt.Sprintf("verdict(%d)", int(k))
	}
}

// Verdict is the oracle answer after validation. Nothing downstream reads a Review.
type Verdict struct {
	Kind      VerdictKind
	BestName  string
	Splits    []SplitGroup
	Reasoning string

	// Fallback is set when the safe default replaced an unusable answer; Cause says why.
	Fallback bool
	Cause    error
}

type IntentKind int

const (
	IntentKeep IntentKind = iota
	IntentConsolidate
	IntentRename
	IntentSplit
)

func (k IntentKind) String() string {
	switch k {
	case IntentKeep:
		return "keep"
	case IntentConsolidate:
		return "consolidate"
	case IntentRename:
		return "rename"
	case IntentSplit:
		return "split"
	default:
		return fmt.Sprintf("intent(%d)", int(k))
	}
}

// Subgroup is one family requested by a split.
type Subgroup struct {
	MemberIDs     []string `json:"member_ids"`
	CanonicalName string   `json:"canonical_name"`
}

// Intent is what the mutator is asked to make true for one group.
type Intent struct {
	Kind      IntentKind `json:"kind"`
	GroupIDs  []string   `json:"group_ids"`
	MasterID  string     `json:"master_id,omitempty"`
	Name      string     `json:"name,omitempty"`
	Subgroups []Subgroup `json:"subgroups,omitempty"`
	Fallback  bool       `json:"fallback,omitempty"`
}
