package advisory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/agenthands/canon/internal/core/model"
	"github.com/sebdah/goldie/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockLLMClient struct {
	Response string
	Err      error
	Prompts  []string
	Block    bool
}

func (m *MockLLMClient) Generate(ctx context.Context, prompt string) (string, error) {
	m.Prompts = append(m.Prompts, prompt)
	if m.Block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

var portStrike = []model.ReviewMember{
	{Name: "Shanghai port strike", ArticleCount: 40, MentionDays: 3},
	{Name: "Dockworkers walk out in Shanghai", ArticleCount: 12, MentionDays: 2},
	{Name: "Shanghai harbor labor dispute", ArticleCount: 5, MentionDays: 1},
}

func TestDefaultPromptGolden(t *testing.T) {
	r := NewLLMReviewer(&MockLLMClient{}, Options{}, quietLogger())

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "review_prompt", []byte(r.Render(portStrike)))
}

func TestReviewParsesFencedAnswer(t *testing.T) {
	mock := &MockLLMClient{Response: "```json\n" + `{
		"same_event": true,
		"best_canonical_name": "Shanghai port strike",
		"reasoning": "same strike",
		"should_split": false,
		"split_groups": []
	}` + "\n```"}
	r := NewLLMReviewer(mock, Options{Prompt: "members:\n%s"}, quietLogger())

	review, err := r.Review(context.Background(), portStrike)
	require.NoError(t, err)
	require.NotNil(t, review.SameEvent)
	assert.True(t, *review.SameEvent)
	require.NotNil(t, review.BestCanonicalName)
	assert.Equal(t, "Shanghai port strike", *review.BestCanonicalName)
	assert.False(t, review.ShouldSplit)

	require.Len(t, mock.Prompts, 1)
	assert.True(t, strings.HasPrefix(mock.Prompts[0], "members:\n1. \"Shanghai port strike\""))
}

func TestReviewAcceptsBothIndexKeys(t *testing.T) {
	mock := &MockLLMClient{Response: `{"same_event": false, "should_split": true, "split_groups": [
		{"member_indices": [1, 2], "canonical_name": "a"},
		{"indices": [3], "canonical_name": "b"}]}`}
	r := NewLLMReviewer(mock, Options{}, quietLogger())

	review, err := r.Review(context.Background(), portStrike)
	require.NoError(t, err)
	require.Len(t, review.SplitGroups, 2)
	assert.Equal(t, []int{1, 2}, review.SplitGroups[0].Positions())
	assert.Equal(t, []int{3}, review.SplitGroups[1].Positions())
}

func TestReviewErrors(t *testing.T) {
	r := NewLLMReviewer(&MockLLMClient{Err: errors.New("503")}, Options{}, quietLogger())
	_, err := r.Review(context.Background(), portStrike)
	assert.ErrorIs(t, err, model.ErrOracleUnavailable)

	r = NewLLMReviewer(&MockLLMClient{Response: "I think they are the same."}, Options{}, quietLogger())
	_, err = r.Review(context.Background(), portStrike)
	assert.ErrorIs(t, err, model.ErrMalformedVerdict)

	_, err = r.Review(context.Background(), nil)
	assert.ErrorIs(t, err, model.ErrMalformedVerdict)
}

func TestReviewTimeout(t *testing.T) {
	r := NewLLMReviewer(&MockLLMClient{Block: true}, Options{Timeout: 5 * time.Millisecond}, quietLogger())
	_, err := r.Review(context.Background(), portStrike)
	assert.ErrorIs(t, err, model.ErrOracleUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReviewRateLimited(t *testing.T) {
	r := NewLLMReviewer(&MockLLMClient{Response: `{"same_event": true}`},
		Options{RequestsPerSecond: 0.001, Burst: 1}, quietLogger())

	_, err := r.Review(context.Background(), portStrike)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = r.Review(ctx, portStrike)
	assert.ErrorIs(t, err, model.ErrOracleUnavailable)
}
