// Package v1 serves the read-only debug HTTP surface of the reconciler.
package v1

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hrygo/convsync/internal/profile"
	convmiddleware "github.com/hrygo/convsync/server/middleware"
	"github.com/hrygo/convsync/server/projector"
)

// Reconciler is the part of the reconciler the API reads from.
type Reconciler interface {
	Project(query string) []projector.Row
	Active() string
}

type APIV1Service struct {
	Profile    *profile.Profile
	Reconciler Reconciler
	Gatherer   prometheus.Gatherer

	rateLimiter *convmiddleware.RateLimiter
}

func NewAPIV1Service(profile *profile.Profile, reconciler Reconciler, gatherer prometheus.Gatherer) *APIV1Service {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &APIV1Service{
		Profile:    profile,
		Reconciler: reconciler,
		Gatherer:   gatherer,

		rateLimiter: convmiddleware.NewRateLimiter(convmiddleware.DefaultRequestsPerSecond, convmiddleware.DefaultBurst),
	}
}

// RegisterRoutes registers the API and metrics handlers on echoServer.
func (s *APIV1Service) RegisterRoutes(echoServer *echo.Echo) {
	apiGroup := echoServer.Group("/api/v1")
	apiGroup.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
	}), s.rateLimiter.Middleware())
	apiGroup.GET("/conversations", s.ListConversations)
	apiGroup.GET("/conversations/active", s.GetActiveConversation)
	apiGroup.GET("/status", s.GetStatus)

	echoServer.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})))
}

// ListConversationsResponse is the body of GET /api/v1/conversations.
type ListConversationsResponse struct {
	Query         string          `json:"query,omitempty"`
	Conversations []projector.Row `json:"conversations"`
}

// ListConversations returns the projected conversation list.
// GET /api/v1/conversations?q=
func (s *APIV1Service) ListConversations(c echo.Context) error {
	query := c.QueryParam("q")
	rows := s.Reconciler.Project(query)
	slog.Debug("conversations listed", "query", query, "count", len(rows))
	return c.JSON(http.StatusOK, ListConversationsResponse{
		Query:         query,
		Conversations: rows,
	})
}

// ActiveConversationResponse is the body of GET /api/v1/conversations/active.
type ActiveConversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

// GetActiveConversation returns the active conversation id.
// GET /api/v1/conversations/active
func (s *APIV1Service) GetActiveConversation(c echo.Context) error {
	active := s.Reconciler.Active()
	if active == "" {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no active conversation"})
	}
	return c.JSON(http.StatusOK, ActiveConversationResponse{ConversationID: active})
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Version      string `json:"version"`
	Mode         string `json:"mode"`
	Driver       string `json:"driver"`
	SyncInterval string `json:"sync_interval"`
}

// GetStatus returns build and configuration information.
// GET /api/v1/status
func (s *APIV1Service) GetStatus(c echo.Context) error {
	if s.Profile == nil {
		return c.JSON(http.StatusOK, StatusResponse{})
	}
	return c.JSON(http.StatusOK, StatusResponse{
		Version:      s.Profile.Version,
		Mode:         s.Profile.Mode,
		Driver:       s.Profile.Driver,
		SyncInterval: s.Profile.SyncInterval.String(),
	})
}

// NewEchoServer creates an echo instance with the API registered.
func NewEchoServer(service *APIV1Service) *echo.Echo {
	echoServer := echo.New()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(middleware.Recover())
	service.RegisterRoutes(echoServer)
	return echoServer
}

// Shutdown stops echoServer, waiting at most timeout for open requests.
func Shutdown(echoServer *echo.Echo, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return echoServer.Shutdown(ctx)
}
