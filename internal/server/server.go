package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/agenthands/canon/internal/bootstrap"
	"github.com/agenthands/canon/internal/config"
	"github.com/agenthands/canon/internal/core"
	"github.com/agenthands/canon/internal/core/model"
	"github.com/agenthands/canon/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Server struct {
	Store        store.Store
	Consolidator *core.Consolidator
	Logger       *logrus.Logger
	// DryRun is used when a run request does not say.
	DryRun bool

	running sync.Mutex
}

func New(s store.Store, c *core.Consolidator, logger *logrus.Logger, dryRun bool) *Server {
	return &Server{Store: s, Consolidator: c, Logger: logger, DryRun: dryRun}
}

// NewServer builds a server from cfg. The caller closes Store on shutdown.
func NewServer(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Server, error) {
	s, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	c, err := bootstrap.NewConsolidator(ctx, cfg, s, logger)
	if err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	return New(s, c, logger, cfg.Consolidation.DryRun), nil
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.POST("/runs", s.Run)
	r.POST("/events", s.IngestEvent)
	r.GET("/events/:id", s.GetEvent)
	r.GET("/countries", s.ListCountries)

	return r
}

type RunRequest struct {
	Countries []string `json:"countries"`
	Set       string   `json:"set"`
	All       bool     `json:"all"`
	DryRun    *bool    `json:"dry_run"`
}

// Run executes one consolidation pass synchronously and returns its report. Only one
// pass runs at a time.
func (s *Server) Run(c *gin.Context) {
	var req RunRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
	}
	if !s.running.TryLock() {
		c.JSON(http.StatusConflict, gin.H{"error": "a run is already in progress"})
		return
	}
	defer s.running.Unlock()

	opts := core.RunOptions{
		Selector: core.CountrySelector{Countries: req.Countries, Set: req.Set, All: req.All},
		DryRun:   s.DryRun,
	}
	if req.DryRun != nil {
		opts.DryRun = *req.DryRun
	}

	report, err := s.Consolidator.Run(c.Request.Context(), opts)
	if err != nil {
		if errors.Is(err, core.ErrUnknownCountrySet) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.Logger.WithError(err).Error("consolidation run failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}

type MentionRequest struct {
	Date         string   `json:"date" binding:"required"`
	DocIDs       []string `json:"doc_ids"`
	ArticleCount int      `json:"article_count"`
}

type IngestRequest struct {
	ID                string           `json:"id"`
	CanonicalName     string           `json:"canonical_name" binding:"required"`
	InitiatingCountry string           `json:"initiating_country" binding:"required"`
	PrimaryCategories map[string]int   `json:"primary_categories"`
	PrimaryRecipients map[string]int   `json:"primary_recipients"`
	Mentions          []MentionRequest `json:"mentions" binding:"required,min=1,dive"`
}

// IngestEvent records an upstream per-day event. New ids become masterless leaves.
func (s *Server) IngestEvent(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	var mentions []model.Mention
	for _, m := range req.Mentions {
		day, err := time.Parse(time.DateOnly, m.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "mention date must be YYYY-MM-DD"})
			return
		}
		mentions = append(mentions, model.Mention{MentionDate: day, DocIDs: m.DocIDs, ArticleCount: m.ArticleCount})
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	event := &model.CanonicalEvent{
		ID:                id,
		CanonicalName:     req.CanonicalName,
		InitiatingCountry: strings.ToUpper(req.InitiatingCountry),
		PrimaryCategories: req.PrimaryCategories,
		PrimaryRecipients: req.PrimaryRecipients,
	}
	if err := s.Store.UpsertEvent(c.Request.Context(), event, mentions); err != nil {
		if errors.Is(err, store.ErrCountryMismatch) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		s.Logger.WithError(err).WithField("event_id", id).Error("failed to ingest event")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store event"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

type EventResponse struct {
	Event    *model.CanonicalEvent   `json:"event"`
	Master   *model.CanonicalEvent   `json:"master,omitempty"`
	Children []*model.CanonicalEvent `json:"children"`
	Mentions []model.Mention         `json:"mentions"`
}

// GetEvent returns an event with its family: its master if it is a child, its children
// if it is a master.
func (s *Server) GetEvent(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	e, err := s.Store.GetEvent(ctx, id)
	if err != nil {
		s.storeError(c, err)
		return
	}
	resp := EventResponse{Event: e, Children: []*model.CanonicalEvent{}}

	if e.MasterEventID != nil {
		if resp.Master, err = s.Store.GetEvent(ctx, *e.MasterEventID); err != nil {
			s.storeError(c, err)
			return
		}
	} else if children, err := s.Store.Children(ctx, id); err != nil {
		s.storeError(c, err)
		return
	} else if len(children) > 0 {
		resp.Children = children
	}

	if resp.Mentions, err = s.Store.ListMentions(ctx, id); err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) ListCountries(c *gin.Context) {
	countries, err := s.Store.ListCountries(c.Request.Context())
	if err != nil {
		s.storeError(c, err)
		return
	}
	if countries == nil {
		countries = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"countries": countries})
}

func (s *Server) storeError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.Logger.WithError(err).Error("store request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
}
