package store

import (
	"testing"

	"github.com/agenthands/canon/internal/core/model"
	"github.com/stretchr/testify/assert"
)

func TestCheckInvariants(t *testing.T) {
	ptr := model.StringPtr
	events := []*model.CanonicalEvent{
		{ID: "m", InitiatingCountry: "CN"},
		{ID: "c", InitiatingCountry: "CN", MasterEventID: ptr("m")},
		{ID: "chain", InitiatingCountry: "CN", MasterEventID: ptr("c")},
		{ID: "self", InitiatingCountry: "CN", MasterEventID: ptr("self")},
		{ID: "dangling", InitiatingCountry: "CN", MasterEventID: ptr("gone")},
		{ID: "foreign", InitiatingCountry: "RU", MasterEventID: ptr("m")},
	}

	got := CheckInvariants(events)

	ids := make([]string, len(got))
	for i, v := range got {
		ids[i] = v.EventID
	}
	assert.Equal(t, []string{"chain", "dangling", "foreign", "self"}, ids)
}

func TestCheckInvariantsClean(t *testing.T) {
	events := []*model.CanonicalEvent{
		{ID: "m", InitiatingCountry: "CN"},
		{ID: "c", InitiatingCountry: "CN", MasterEventID: model.StringPtr("m")},
	}
	assert.Empty(t, CheckInvariants(events))
}

func TestMergeMention(t *testing.T) {
	a := model.Mention{CanonicalEventID: "e", DocIDs: []string{"d2", "d1"}, ArticleCount: 5}
	b := model.Mention{DocIDs: []string{"d3", "d1"}, ArticleCount: 1}

	got := MergeMention(a, b)

	assert.Equal(t, "e", got.CanonicalEventID)
	assert.Equal(t, []string{"d1", "d2", "d3"}, got.DocIDs)
	assert.Equal(t, 5, got.ArticleCount)
}
