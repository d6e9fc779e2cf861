// Package advisory asks an external oracle whether a consolidation group is one event.
package advisory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agenthands/canon/internal/core/common"
	"github.com/agenthands/canon/internal/core/model"
	"github.com/agenthands/canon/internal/llm"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Reviewer returns the raw advisory answer for one group. Members are in group order and
// split indices in the answer are 1-based positions in that list.
type Reviewer interface {
	Review(ctx context.Context, members []model.ReviewMember) (*model.Review, error)
}

// DefaultPrompt is used when no review template is configured.
const DefaultPrompt = `You are deduplicating news events reported on different days.
The following event records were grouped together because their names are semantically
similar and their reporting periods are close in time:

%s
Decide whether they all describe the same real-world event.

Respond with a single JSON object and nothing else:
{
  "same_event": true or false,
  "best_canonical_name": "the most accurate and complete name for the event",
  "reasoning": "one or two sentences",
  "should_split": true or false,
  "split_groups": [{"member_indices": [1, 2], "canonical_name": "name for this subgroup"}]
}

Use should_split only when the records describe several distinct events. member_indices
refer to the numbers in the list above. When same_event is true, best_canonical_name
should preferably be one of the names listed.
`

type LLMReviewer struct {
	LLM     llm.LLMClient
	Prompt  string
	Timeout time.Duration
	Limiter *rate.Limiter
	Logger  *logrus.Logger
}

type Options struct {
	Prompt            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// NewLLMReviewer builds a reviewer on client. A zero RequestsPerSecond disables limiting.
func NewLLMReviewer(client llm.LLMClient, opts Options, logger *logrus.Logger) *LLMReviewer {
	prompt := opts.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := &LLMReviewer{LLM: client, Prompt: prompt, Timeout: opts.Timeout, Logger: logger}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		r.Limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return r
}

func (r *LLMReviewer) Review(ctx context.Context, members []model.ReviewMember) (*model.Review, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: empty group", model.ErrMalformedVerdict)
	}
	if r.Limiter != nil {
		if err := r.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %w", model.ErrOracleUnavailable, err)
		}
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	response, err := r.LLM.Generate(ctx, r.Render(members))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrOracleUnavailable, err)
	}

	review, err := common.ParseJSON[model.Review](response)
	if err != nil {
		r.Logger.WithField("response", truncate(response, 200)).Debug("unparseable review")
		return nil, fmt.Errorf("%w: %w", model.ErrMalformedVerdict, err)
	}
	return &review, nil
}

// Render fills the prompt template with the numbered member list.
func (r *LLMReviewer) Render(members []model.ReviewMember) string {
	return fmt.Sprintf(r.Prompt, FormatMembers(members))
}

// FormatMembers numbers members from 1, one per line.
func FormatMembers(members []model.ReviewMember) string {
	var sb strings.Builder
	for i, m := range members {
		fmt.Fprintf(&sb, "%d. %q (articles: %d, days mentioned: %d)\n", i+1, m.Name, m.ArticleCount, m.MentionDays)
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
