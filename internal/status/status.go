// Package status serves a read-only snapshot of the bot over HTTP.
package status

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/victornm/quizbot/internal/domain"
	"github.com/victornm/quizbot/internal/errors"
)

type Questions interface {
	Count(ctx context.Context) (int, error)
	Categories(ctx context.Context) (map[string]int, error)
}

type Users interface {
	Count(ctx context.Context) (int, error)
}

type Leaderboard interface {
	GetLeaderboard(ctx context.Context) (*domain.Leaderboard, error)
}

type Config struct {
	Questions Questions
	Users     Users
	// Leaderboard is optional; without it /leaderboard is not served.
	Leaderboard Leaderboard
}

type Handler struct {
	questions   Questions
	users       Users
	leaderboard Leaderboard
}

func New(c Config) *Handler {
	return &Handler{
		questions:   c.Questions,
		users:       c.Users,
		leaderboard: c.Leaderboard,
	}
}

// Register mounts the routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.Healthz)
	r.GET("/status", h.Status)
	if h.leaderboard != nil {
		r.GET("/leaderboard", h.Leaderboard)
	}
}

type Snapshot struct {
	Questions  int            `json:"questions"`
	Users      int            `json:"users"`
	Categories map[string]int `json:"categories"`
}

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) Status(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		s   Snapshot
		err error
	)
	if s.Questions, err = h.questions.Count(ctx); err != nil {
		abort(c, err)
		return
	}
	if s.Categories, err = h.questions.Categories(ctx); err != nil {
		abort(c, err)
		return
	}
	if s.Users, err = h.users.Count(ctx); err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, s)
}

type LeaderboardEntry struct {
	Rank    int    `json:"rank"`
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	Correct int    `json:"correct"`
}

func (h *Handler) Leaderboard(c *gin.Context) {
	l, err := h.leaderboard.GetLeaderboard(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}

	entries := make([]LeaderboardEntry, 0, len(l.Entries))
	for i, e := range l.Entries {
		entries = append(entries, LeaderboardEntry{Rank: i + 1, UserID: e.UserID, Name: e.DisplayName, Correct: e.Correct})
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func abort(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "status: request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
