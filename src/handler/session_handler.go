package handler

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ambirelabs/walletcore/src/domain"
	"github.com/ambirelabs/walletcore/src/service"
)

type SessionHandler struct {
	tracker *service.SettlementTracker
}

func NewSessionHandler(tracker *service.SettlementTracker) *SessionHandler {
	return &SessionHandler{tracker: tracker}
}

func (h *SessionHandler) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("handler", "session").Logger()
	return &l
}

// OpenSessionRequest registers a paginated view over one account's history
type OpenSessionRequest struct {
	SessionID    string `json:"sessionId" binding:"required"`
	Account      string `json:"account" binding:"required"`
	ChainID      *int64 `json:"chainId,omitempty"`
	FromPage     int    `json:"fromPage"`
	ItemsPerPage int    `json:"itemsPerPage"`
	Dashboard    bool   `json:"dashboard"`
}

// OpenSession handles POST /sessions
func (h *SessionHandler) OpenSession(c *gin.Context) {
	logger := h.logger(c.Request.Context()).With().Str("func", "OpenSession").Logger()

	var req OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error().Err(err).Msg("invalid request payload")
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}
	if !common.IsHexAddress(req.Account) {
		respondWithError(c, domain.NewError(
			domain.ErrorCodeParameterInvalid,
			errors.New("invalid account address"),
			domain.WithMsg("Invalid account address"),
		))
		return
	}

	view := h.tracker.Sessions().Open(
		req.SessionID,
		service.SessionFilter{
			Account: common.HexToAddress(req.Account),
			ChainID: req.ChainID,
		},
		service.SessionPage{
			FromPage:     req.FromPage,
			ItemsPerPage: req.ItemsPerPage,
		},
		req.Dashboard,
	)
	respondWithSuccess(c, view)
}

// GetSession handles GET /sessions/:id
func (h *SessionHandler) GetSession(c *gin.Context) {
	view, ok := h.tracker.Sessions().Get(c.Param("id"))
	if !ok {
		respondWithError(c, domain.NewError(
			domain.ErrorCodeResourceNotFound,
			errors.New("session not found"),
			domain.WithMsg("Session not found"),
		))
		return
	}
	respondWithSuccess(c, view)
}

// CloseSession handles DELETE /sessions/:id
func (h *SessionHandler) CloseSession(c *gin.Context) {
	h.tracker.Sessions().Close(c.Param("id"))
	respondWithSuccess(c, gin.H{"closed": true})
}
