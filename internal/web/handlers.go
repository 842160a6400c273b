package web

import (
	"encoding/json"
	"net/http"

	"github.com/vitos/crypto_dip_bot/internal/domain"
	"github.com/vitos/crypto_dip_bot/internal/usecase"
	"go.uber.org/zap"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.commands.Status())
}

func (s *Server) handleLots(w http.ResponseWriter, r *http.Request) {
	lots := s.commands.Lots()
	if lots == nil {
		lots = []usecase.LotView{}
	}
	s.writeJSON(w, http.StatusOK, lots)
}

func (s *Server) handleUpdateParams(w http.ResponseWriter, r *http.Request) {
	var u usecase.ParamsUpdate
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&u); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}
	if err := s.commands.UpdateParams(r.Context(), u); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("Parameters updated over HTTP")
	s.writeJSON(w, http.StatusOK, s.commands.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.commands.Start(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "Bot started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.commands.Stop(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "Bot stopped"})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.commands.Reset(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "State reset to defaults"})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	trades, err := s.tradeRepo.ListTrades(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list trades", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list trades"})
		return
	}
	if trades == nil {
		trades = []*domain.Trade{}
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	history, err := s.tradeRepo.ListPositionHistory(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list position history", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list position history"})
		return
	}
	if history == nil {
		history = []*domain.PositionHistory{}
	}
	s.writeJSON(w, http.StatusOK, history)
}
