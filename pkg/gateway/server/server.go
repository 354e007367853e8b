package server

import (
	"log/slog"
	"net/http"

	"github.com/villagehq/village/pkg/core/calls"
	"github.com/villagehq/village/pkg/core/directory"
	"github.com/villagehq/village/pkg/core/village"
	"github.com/villagehq/village/pkg/gateway/config"
	"github.com/villagehq/village/pkg/gateway/events"
	"github.com/villagehq/village/pkg/gateway/handlers"
	"github.com/villagehq/village/pkg/gateway/lifecycle"
	"github.com/villagehq/village/pkg/gateway/mw"
)

// Deps carries the wired services the HTTP surface exposes.
type Deps struct {
	Calls     *calls.Service
	Village   *village.Service
	Directory directory.Directory
	Hub       *events.Hub
	Lifecycle *lifecycle.Lifecycle
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
	deps   Deps
}

func New(cfg config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		deps:   deps,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		Lifecycle: s.deps.Lifecycle,
		Calls:     s.deps.Calls,
		Conns:     s.deps.Hub,
	})

	s.mux.Handle("GET /api/elder/{id}", handlers.ElderHandler{
		Directory: s.deps.Directory,
	})
	s.mux.Handle("GET /api/elder/{id}/history", handlers.ElderHistoryHandler{
		Directory: s.deps.Directory,
		Calls:     s.deps.Calls,
	})

	s.mux.Handle("POST /api/call/start", handlers.CallStartHandler{
		Calls:     s.deps.Calls,
		Lifecycle: s.deps.Lifecycle,
		Logger:    s.logger,
	})
	s.mux.Handle("POST /api/call/{id}/end", handlers.CallEndHandler{Calls: s.deps.Calls})
	s.mux.Handle("GET /api/call/{id}", handlers.CallGetHandler{Calls: s.deps.Calls})
	s.mux.Handle("GET /api/calls", handlers.CallsListHandler{Calls: s.deps.Calls})
	s.mux.Handle("POST /api/transcript/stream", handlers.TranscriptHandler{Calls: s.deps.Calls})

	s.mux.Handle("GET /api/village/actions", handlers.ActionsHandler{Village: s.deps.Village})

	s.mux.Handle("/ws", handlers.WSHandler{
		Config:    s.cfg,
		Hub:       s.deps.Hub,
		Lifecycle: s.deps.Lifecycle,
		Logger:    s.logger,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
