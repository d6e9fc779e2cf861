package core

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/agenthands/canon/internal/core/model"
	"github.com/agenthands/canon/internal/core/similarity"
	"github.com/agenthands/canon/internal/store"
	"github.com/sirupsen/logrus"
)

// pairScores is a similarity oracle over a table keyed by "a|b" with a < b.
func pairScores(scores map[string]float64) similarity.Oracle {
	return similarity.Func(func(ctx context.Context, a, b *model.CanonicalEvent) (float64, error) {
		x, y := a.ID, b.ID
		if x > y {
			x, y = y, x
		}
		return scores[x+"|"+y], nil
	})
}

// MockReviewer answers by the name of the first member it is shown.
type MockReviewer struct {
	mu      sync.Mutex
	Answers map[string]*model.Review
	Err     error
	Calls   int
}

func (m *MockReviewer) Review(ctx context.Context, members []model.ReviewMember) (*model.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	if r, ok := m.Answers[members[0].Name]; ok {
		return r, nil
	}
	return nil, errors.New("no scripted answer")
}

// FailingStore fails Apply for any plan touching an event in FailIDs.
type FailingStore struct {
	store.Store
	FailIDs map[string]bool
}

func (f *FailingStore) Apply(ctx context.Context, plan *model.MutationPlan) error {
	for _, id := range plan.GroupIDs {
		if f.FailIDs[id] {
			return errors.New("disk full")
		}
	}
	return f.Store.Apply(ctx, plan)
}

// MockLLM returns scripted responses keyed by a substring of the prompt.
type MockLLM struct {
	mu        sync.Mutex
	Responses map[string]string
	Prompts   []string
}

func (m *MockLLM) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, prompt)
	for key, resp := range m.Responses {
		if strings.Contains(prompt, key) {
			return resp, nil
		}
	}
	return "", errors.New("service unavailable")
}

type MockEmbedder struct {
	Vectors map[string][]float32
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, ok := m.Vectors[text]
	if !ok {
		return nil, errors.New("no vector")
	}
	return v, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func boolPtr(b bool) *bool { return &b }

func same(best string) *model.Review {
	return &model.Review{SameEvent: boolPtr(true), BestCanonicalName: model.StringPtr(best)}
}

// ForgetfulOracle counts Forget calls on top of a scripted oracle.
type ForgetfulOracle struct {
	similarity.Func
	Forgets int
}

func (f *ForgetfulOracle) Forget() {
	f.Forgets++
}
