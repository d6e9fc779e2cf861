// Package sqlstore keeps canonical events and mentions in postgres or sqlite through gorm.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agenthands/canon/internal/core/model"
	"github.com/agenthands/canon/internal/store"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

type Options struct {
	Dialect         string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Logger          *logrus.Logger
}

type Store struct {
	db  *gorm.DB
	log *logrus.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects, creates a missing postgres database, and migrates the schema.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	gormCfg := &gorm.Config{
		Logger: logger.New(opts.Logger, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}

	var db *gorm.DB
	var err error
	switch opts.Dialect {
	case DialectPostgres:
		db, err = gorm.Open(postgres.Open(opts.DSN), gormCfg)
		if err != nil && (strings.Contains(err.Error(), "does not exist") || strings.Contains(err.Error(), "3D000")) {
			opts.Logger.Info("target database does not exist, creating it")
			if e := EnsureDatabase(ctx, opts.DSN); e != nil {
				return nil, fmt.Errorf("failed to create database: %w", e)
			}
			db, err = gorm.Open(postgres.Open(opts.DSN), gormCfg)
		}
	case DialectSQLite:
		db, err = gorm.Open(sqlite.Open(opts.DSN), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported sql dialect: %q", opts.Dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", opts.Dialect, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql db: %w", err)
	}
	if opts.Dialect == DialectSQLite {
		// Single writer to avoid SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
		for _, pragma := range []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA busy_timeout = 5000",
		} {
			if err := db.Exec(pragma).Error; err != nil {
				return nil, fmt.Errorf("failed to set %q: %w", pragma, err)
			}
		}
	} else {
		if opts.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
	}

	if err := db.WithContext(ctx).AutoMigrate(&eventRow{}, &mentionRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	opts.Logger.WithField("dialect", opts.Dialect).Info("sql store ready")
	return &Store{db: db, log: opts.Logger}, nil
}

func (s *Store) UpsertEvent(ctx context.Context, event *model.CanonicalEvent, mentions []model.Mention) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row eventRow
		err := tx.Where("id = ?", event.ID).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			leaf := event.Clone()
			leaf.MasterEventID = nil
			row = toEventRow(leaf)
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to create event %s: %w", event.ID, err)
			}
		case err != nil:
			return err
		default:
			if row.InitiatingCountry != event.InitiatingCountry {
				return fmt.Errorf("%w: %s", store.ErrCountryMismatch, event.ID)
			}
			updates := map[string]interface{}{}
			if event.PrimaryCategories != nil {
				updates["primary_categories"] = encode(event.PrimaryCategories)
			}
			if event.PrimaryRecipients != nil {
				updates["primary_recipients"] = encode(event.PrimaryRecipients)
			}
			if len(updates) > 0 {
				if err := tx.Model(&eventRow{}).Where("id = ?", event.ID).Updates(updates).Error; err != nil {
					return err
				}
			}
		}

		for _, m := range mentions {
			day := model.Day(m.MentionDate)
			var existing mentionRow
			err := tx.Where("canonical_event_id = ? AND mention_date = ?", event.ID, day).First(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				r := toMentionRow(store.NormalizeMention(event.ID, m))
				if err := tx.Create(&r).Error; err != nil {
					return fmt.Errorf("failed to create mention %s/%s: %w", event.ID, day.Format(time.DateOnly), err)
				}
			case err != nil:
				return err
			default:
				merged := toMentionRow(store.MergeMention(existing.toModel(), m))
				merged.ID = existing.ID
				if err := tx.Save(&merged).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *Store) GetEvent(ctx context.Context, id string) (*model.CanonicalEvent, error) {
	var row eventRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	out, err := s.derive(ctx, []eventRow{row})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (s *Store) Children(ctx context.Context, id string) ([]*model.CanonicalEvent, error) {
	if _, err := s.GetEvent(ctx, id); err != nil {
		return nil, err
	}
	var rows []eventRow
	if err := s.db.WithContext(ctx).Where("master_event_id = ?", id).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return s.derive(ctx, rows)
}

func (s *Store) ListMentions(ctx context.Context, eventID string) ([]model.Mention, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&eventRow{}).Where("id = ?", eventID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, eventID)
	}
	var rows []mentionRow
	if err := s.db.WithContext(ctx).Where("canonical_event_id = ?", eventID).Order("mention_date").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Mention, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *Store) ListCountries(ctx context.Context) ([]string, error) {
	var out []string
	err := s.db.WithContext(ctx).Model(&eventRow{}).
		Joins("JOIN event_mentions ON event_mentions.canonical_event_id = canonical_events.id").
		Where("canonical_events.initiating_country <> ''").
		Distinct().
		Order("canonical_events.initiating_country").
		Pluck("canonical_events.initiating_country", &out).Error
	return out, err
}

func (s *Store) ListEvents(ctx context.Context, country string) ([]*model.CanonicalEvent, error) {
	var rows []eventRow
	if err := s.db.WithContext(ctx).Where("initiating_country = ?", country).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	all, err := s.derive(ctx, rows)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, e := range all {
		if e.Eligible() {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) AllEvents(ctx context.Context) ([]*model.CanonicalEvent, error) {
	var rows []eventRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return s.derive(ctx, rows)
}

func (s *Store) Snapshot(ctx context.Context, ids []string) (*model.Snapshot, error) {
	var rows []eventRow
	err := s.db.WithContext(ctx).Where("id IN ? OR master_event_id IN ?", ids, ids).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	events, err := s.derive(ctx, rows)
	if err != nil {
		return nil, err
	}
	snap := model.NewSnapshot(events)
	for _, id := range ids {
		if _, ok := snap.Events[id]; !ok {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
	}
	return snap, nil
}

func (s *Store) Apply(ctx context.Context, plan *model.MutationPlan) error {
	if plan.Empty() {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []eventRow
		if err := tx.Where("id IN ?", referenced(plan)).Find(&rows).Error; err != nil {
			return err
		}
		known := make(map[string]*model.CanonicalEvent, len(rows))
		for _, r := range rows {
			known[r.ID] = r.toModel()
		}
		if err := store.ValidateRefs(known, plan); err != nil {
			return err
		}

		for _, op := range plan.Ops {
			if err := applyOp(tx, op); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}

		// A chain left behind by the ops means the plan was wrong; roll it all back.
		var chained []string
		err := tx.Table("canonical_events AS c").
			Joins("JOIN canonical_events AS m ON c.master_event_id = m.id").
			Where("m.master_event_id IS NOT NULL AND c.initiating_country = ?", known[plan.Ops[0].EventID].InitiatingCountry).
			Pluck("c.id", &chained).Error
		if err != nil {
			return err
		}
		if len(chained) > 0 {
			return fmt.Errorf("%w: chained children %v", model.ErrInvariantViolation, chained)
		}
		return nil
	})
}

func applyOp(tx *gorm.DB, op model.Op) error {
	switch op.Kind {
	case model.OpSetMaster:
		var master interface{}
		if op.MasterID != nil {
			master = *op.MasterID
		}
		res := tx.Model(&eventRow{}).Where("id = ?", op.EventID).Update("master_event_id", master)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", model.ErrUnknownEvent, op.EventID)
		}
	case model.OpReparent:
		return tx.Model(&eventRow{}).
			Where("master_event_id = ? AND id <> ?", op.EventID, op.Except).
			Update("master_event_id", *op.MasterID).Error
	case model.OpSetNames:
		res := tx.Model(&eventRow{}).Where("id = ?", op.EventID).Updates(map[string]interface{}{
			"canonical_name":    op.Name,
			"alternative_names": encode(nonNil(op.Alternatives)),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", model.ErrUnknownEvent, op.EventID)
		}
	default:
		return fmt.Errorf("unsupported op %s", op.Kind)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// derive converts rows and fills span and counters from their own mentions.
func (s *Store) derive(ctx context.Context, rows []eventRow) ([]*model.CanonicalEvent, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	var mentions []mentionRow
	if err := s.db.WithContext(ctx).Where("canonical_event_id IN ?", ids).Find(&mentions).Error; err != nil {
		return nil, err
	}
	byEvent := make(map[string][]model.Mention, len(rows))
	for _, m := range mentions {
		byEvent[m.CanonicalEventID] = append(byEvent[m.CanonicalEventID], m.toModel())
	}

	out := make([]*model.CanonicalEvent, len(rows))
	for i, r := range rows {
		e := r.toModel()
		e.Summarize(byEvent[r.ID])
		out[i] = e
	}
	return out, nil
}

func referenced(plan *model.MutationPlan) []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, op := range plan.Ops {
		add(op.EventID)
		if op.MasterID != nil {
			add(*op.MasterID)
		}
	}
	return ids
}
