package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/application/crawler"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/shared"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/student"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(c *gin.Context) {
	status := s.deps.Health.Check(c.Request.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (s *Server) handleLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// PROFILES
// ══════════════════════════════════════════════════════════════════════════════

// ProfileView is the JSON form of a monitored profile.
type ProfileView struct {
	ID            string    `json:"id"`
	Description   string    `json:"description,omitempty"`
	StudentID     string    `json:"studentId"`
	SchoolYearID  string    `json:"schoolYearId"`
	CacheKey      string    `json:"cacheKey"`
	WindowStart   time.Time `json:"windowStart"`
	WindowEnd     time.Time `json:"windowEnd"`
	Subscriptions int       `json:"subscriptions"`
}

// ProfilesView is the body of GET /api/v1/profiles.
type ProfilesView struct {
	Running  bool          `json:"running"`
	Interval string        `json:"interval"`
	Profiles []ProfileView `json:"profiles"`
}

func (s *Server) handleListProfiles(c *gin.Context) {
	src := s.deps.Profiles
	profiles := src.Profiles()

	view := ProfilesView{
		Running:  src.IsRunning(),
		Interval: src.Interval().String(),
		Profiles: make([]ProfileView, 0, len(profiles)),
	}
	for _, p := range profiles {
		w := p.Window()
		view.Profiles = append(view.Profiles, ProfileView{
			ID:            p.ID.String(),
			Description:   p.Description,
			StudentID:     p.StudentID,
			SchoolYearID:  p.SchoolYearID,
			CacheKey:      p.Key(),
			WindowStart:   w.Start,
			WindowEnd:     w.End,
			Subscriptions: len(p.Subscriptions()),
		})
	}
	writeJSON(c, http.StatusOK, view)
}

// ══════════════════════════════════════════════════════════════════════════════
// CRAWL
// ══════════════════════════════════════════════════════════════════════════════

// CrawlView is the body of the crawl endpoints. Students is filled only when
// ?students=true is passed.
type CrawlView struct {
	Status     string                      `json:"status"`
	Discovered int                         `json:"discovered"`
	Pending    int                         `json:"pending"`
	LastError  string                      `json:"lastError,omitempty"`
	Timestamp  time.Time                   `json:"timestamp"`
	Students   []student.DiscoveredStudent `json:"students,omitempty"`
}

func crawlView(state crawler.CrawlState, withStudents bool) CrawlView {
	v := CrawlView{
		Status:     state.Status.String(),
		Discovered: state.DiscoveredCount(),
		Pending:    state.PendingCount,
		Timestamp:  state.Timestamp,
	}
	if state.LastError != nil {
		v.LastError = state.LastError.Error()
	}
	if withStudents {
		v.Students = state.Students()
	}
	return v
}

func (s *Server) handleGetCrawl(c *gin.Context) {
	withStudents, _ := strconv.ParseBool(c.Query("students"))
	writeJSON(c, http.StatusOK, crawlView(s.deps.Crawl.Current(), withStudents))
}

func (s *Server) handlePauseCrawl(c *gin.Context) {
	s.controlCrawl(c, "pause", s.deps.Crawl.Pause)
}

func (s *Server) handleResumeCrawl(c *gin.Context) {
	s.controlCrawl(c, "resume", s.deps.Crawl.Resume)
}

func (s *Server) handleStopCrawl(c *gin.Context) {
	if !s.deps.Crawl.Current().Status.IsActive() {
		writeError(c, http.StatusConflict, "invalid_state", "crawler is not running")
		return
	}
	s.controlCrawl(c, "stop", func() error {
		s.deps.Crawl.Stop()
		return nil
	})
}

func (s *Server) controlCrawl(c *gin.Context, op string, fn func() error) {
	log := logger.FromContext(c.Request.Context())
	if err := fn(); err != nil {
		if errors.Is(err, shared.ErrInvalidOperation) {
			writeError(c, http.StatusConflict, "invalid_state", err.Error())
			return
		}
		log.Error("crawl control failed", logger.Operation(op), logger.Err(err))
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal_error", "crawl control failed")
		return
	}

	state := s.deps.Crawl.Current()
	log.Info("crawl control", logger.Operation(op), logger.CrawlStatus(state.Status.String()))
	writeJSON(c, http.StatusOK, crawlView(state, false))
}
