// Package web serves the JSON command API and the Prometheus endpoint.
package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vitos/crypto_dip_bot/internal/domain"
	"github.com/vitos/crypto_dip_bot/internal/usecase"
	"go.uber.org/zap"
)

// Commands is the operator surface exposed over HTTP.
type Commands interface {
	UpdateParams(ctx context.Context, u usecase.ParamsUpdate) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() usecase.Status
	Lots() []usecase.LotView
	Reset(ctx context.Context) error
}

type Server struct {
	router    *http.ServeMux
	server    *http.Server
	commands  Commands
	tradeRepo domain.TradeRepository
	metrics   http.Handler
	logger    *zap.Logger
}

// NewServer wires the routes. tradeRepo and metrics may be nil, in which
// case their endpoints answer 404.
func NewServer(
	port int,
	commands Commands,
	tradeRepo domain.TradeRepository,
	metrics http.Handler,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		commands:  commands,
		tradeRepo: tradeRepo,
		metrics:   metrics,
		logger:    logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Engine
	s.router.HandleFunc("GET /status", s.handleStatus)
	s.router.HandleFunc("GET /lots", s.handleLots)
	s.router.HandleFunc("POST /params", s.handleUpdateParams)
	s.router.HandleFunc("POST /start", s.handleStart)
	s.router.HandleFunc("POST /stop", s.handleStop)
	s.router.HandleFunc("POST /reset", s.handleReset)

	// Journal
	if s.tradeRepo != nil {
		s.router.HandleFunc("GET /trades", s.handleTrades)
		s.router.HandleFunc("GET /history", s.handleHistory)
	}

	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics)
	}
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
