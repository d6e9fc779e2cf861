package sqlstore

import (
	"encoding/json"
	"time"

	"github.com/agenthands/canon/internal/core/model"
	"gorm.io/datatypes"
)

// eventRow is one canonical event. JSON columns become jsonb on postgres and JSON on sqlite.
type eventRow struct {
	ID                string         `gorm:"column:id;primaryKey;type:varchar(64)"`
	CanonicalName     string         `gorm:"column:canonical_name;type:text;not null"`
	AlternativeNames  datatypes.JSON `gorm:"column:alternative_names"`
	InitiatingCountry string         `gorm:"column:initiating_country;type:varchar(64);not null;index"`
	MasterEventID     *string        `gorm:"column:master_event_id;type:varchar(64);index"`
	PrimaryCategories datatypes.JSON `gorm:"column:primary_categories"`
	PrimaryRecipients datatypes.JSON `gorm:"column:primary_recipients"`
	// Maintained by the summary sync job, never read here.
	TotalArticles    int       `gorm:"column:total_articles;default:0"`
	TotalMentionDays int       `gorm:"column:total_mention_days;default:0"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

func (eventRow) TableName() string { return "canonical_events" }

// mentionRow is one day's observation; (canonical_event_id, mention_date) is unique.
type mentionRow struct {
	ID               uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	CanonicalEventID string         `gorm:"column:canonical_event_id;type:varchar(64);not null;uniqueIndex:uq_event_day"`
	MentionDate      time.Time      `gorm:"column:mention_date;not null;uniqueIndex:uq_event_day"`
	DocIDs           datatypes.JSON `gorm:"column:doc_ids"`
	ArticleCount     int            `gorm:"column:article_count;not null;default:0"`
}

func (mentionRow) TableName() string { return "event_mentions" }

func toEventRow(e *model.CanonicalEvent) eventRow {
	return eventRow{
		ID:                e.ID,
		CanonicalName:     e.CanonicalName,
		AlternativeNames:  encode(nonNil(e.AlternativeNames)),
		InitiatingCountry: e.InitiatingCountry,
		MasterEventID:     e.MasterEventID,
		PrimaryCategories: encode(e.PrimaryCategories),
		PrimaryRecipients: encode(e.PrimaryRecipients),
	}
}

func (r eventRow) toModel() *model.CanonicalEvent {
	e := &model.CanonicalEvent{
		ID:                r.ID,
		CanonicalName:     r.CanonicalName,
		InitiatingCountry: r.InitiatingCountry,
	}
	if r.MasterEventID != nil {
		e.MasterEventID = model.StringPtr(*r.MasterEventID)
	}
	decode(r.AlternativeNames, &e.AlternativeNames)
	decode(r.PrimaryCategories, &e.PrimaryCategories)
	decode(r.PrimaryRecipients, &e.PrimaryRecipients)
	return e
}

func toMentionRow(m model.Mention) mentionRow {
	return mentionRow{
		CanonicalEventID: m.CanonicalEventID,
		MentionDate:      model.Day(m.MentionDate),
		DocIDs:           encode(nonNil(m.DocIDs)),
		ArticleCount:     m.ArticleCount,
	}
}

func (r mentionRow) toModel() model.Mention {
	m := model.Mention{
		CanonicalEventID: r.CanonicalEventID,
		MentionDate:      model.Day(r.MentionDate),
		ArticleCount:     r.ArticleCount,
	}
	decode(r.DocIDs, &m.DocIDs)
	return m
}

func encode(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(b)
}

func decode(raw datatypes.JSON, dst any) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, dst)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
