package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ethanchen143/LoopBop-sub001/internal/engine"
	"github.com/ethanchen143/LoopBop-sub001/internal/ws"
	"github.com/ethanchen143/LoopBop-sub001/pkg/types"
)

// Battles is the registry surface the HTTP API drives.
type Battles interface {
	ws.Rooms
	Create(ctx context.Context, creatorID string, songCount int) (string, error)
	Join(ctx context.Context, code, userID, name string) (engine.Player, error)
}

// Questions produces single-player battle data.
type Questions interface {
	BattleData(ctx context.Context) (types.BattleData, error)
}

type BattleResponse struct {
	Version     int             `json:"version"`
	Battle      engine.State    `json:"battle"`
	Leaderboard []engine.Player `json:"leaderboard"`
}

type createRequest struct {
	CreatorID string `json:"creatorId"`
	SongCount int    `json:"songCount"`
}

type joinRequest struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type readyRequest struct {
	UserID string `json:"userId"`
	Ready  bool   `json:"ready"`
}

type userRequest struct {
	UserID string `json:"userId"`
}

type selectionRequest struct {
	UserID string   `json:"userId"`
	Tags   []string `json:"tags"`
}

type handlers struct {
	battles   Battles
	questions Questions
	log       *zap.Logger
}

func (h handlers) CreateBattle(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	code, err := h.battles.Create(r.Context(), req.CreatorID, req.SongCount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.CreateBattleResponse{Code: code})
}

func (h handlers) JoinBattle(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.battles.Join(r.Context(), chi.URLParam(r, "code"), req.UserID, req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h handlers) SetReady(w http.ResponseWriter, r *http.Request) {
	var req readyRequest
	if !h.decode(w, r, &req) {
		return
	}
	st, version, err := h.battles.SetReady(r.Context(), chi.URLParam(r, "code"), req.UserID, req.Ready)
	h.writeState(w, r, req.UserID, st, version, err)
}

func (h handlers) StartBattle(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !h.decode(w, r, &req) {
		return
	}
	st, version, err := h.battles.Start(r.Context(), chi.URLParam(r, "code"), req.UserID)
	h.writeState(w, r, req.UserID, st, version, err)
}

func (h handlers) StartRound(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !h.decode(w, r, &req) {
		return
	}
	st, version, err := h.battles.StartRound(r.Context(), chi.URLParam(r, "code"), req.UserID)
	h.writeState(w, r, req.UserID, st, version, err)
}

func (h handlers) SubmitSelection(w http.ResponseWriter, r *http.Request) {
	round, err := strconv.Atoi(chi.URLParam(r, "round"))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: round must be a number", engine.ErrValidation))
		return
	}
	var req selectionRequest
	if !h.decode(w, r, &req) {
		return
	}
	st, version, err := h.battles.Submit(r.Context(), chi.URLParam(r, "code"), round, req.UserID, req.Tags)
	h.writeState(w, r, req.UserID, st, version, err)
}

func (h handlers) GetBattle(w http.ResponseWriter, r *http.Request) {
	st, version, err := h.battles.View(r.Context(), chi.URLParam(r, "code"), r.URL.Query().Get("viewer"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BattleResponse{Version: version, Battle: st, Leaderboard: st.Leaderboard()})
}

func (h handlers) SoloBattle(w http.ResponseWriter, r *http.Request) {
	data, err := h.questions.BattleData(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// writeState answers a mutation with the state as its caller may see it.
func (h handlers) writeState(w http.ResponseWriter, r *http.Request, viewerID string, st engine.State, version int, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	v := st.ViewFor(strings.TrimSpace(viewerID))
	writeJSON(w, http.StatusOK, BattleResponse{Version: version, Battle: v, Leaderboard: v.Leaderboard()})
}

func (h handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: bad json: %v", engine.ErrValidation, err))
		return false
	}
	return true
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, types.ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
