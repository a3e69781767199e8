package handler

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ambirelabs/walletcore/src/domain"
	"github.com/ambirelabs/walletcore/src/repository"
	"github.com/ambirelabs/walletcore/src/service"
)

type ActivityHandler struct {
	tracker  *service.SettlementTracker
	messages *repository.MessageRepository
}

func NewActivityHandler(tracker *service.SettlementTracker, messages *repository.MessageRepository) *ActivityHandler {
	return &ActivityHandler{
		tracker:  tracker,
		messages: messages,
	}
}

func (h *ActivityHandler) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("handler", "activity").Logger()
	return &l
}

func parseAccountParam(c *gin.Context) (common.Address, error) {
	raw := c.Param("address")
	if !common.IsHexAddress(raw) {
		return common.Address{}, domain.NewError(
			domain.ErrorCodeParameterInvalid,
			errors.New("invalid account address"),
			domain.WithMsg("Invalid account address"),
		)
	}
	return common.HexToAddress(raw), nil
}

// TrackOpRequest represents the payload for tracking a broadcasted operation
type TrackOpRequest struct {
	ChainID       int64               `json:"chainId" binding:"required"`
	Nonce         string              `json:"nonce"`
	IdentifiedBy  domain.IdentifiedBy `json:"identifiedBy" binding:"required"`
	Calls         []callPayload       `json:"calls"`
	IsSingleton   bool                `json:"isSingletonDeploy"`
	SigningKey    string              `json:"signingKeyAddr"`
	SigningScheme string              `json:"signingKeyType"`
}

type callPayload struct {
	To    string `json:"to" binding:"required"`
	Value string `json:"value"`
	Data  string `json:"data"`
}

// TrackOp handles POST /accounts/:address/ops
func (h *ActivityHandler) TrackOp(c *gin.Context) {
	logger := h.logger(c.Request.Context()).With().Str("func", "TrackOp").Logger()

	account, err := parseAccountParam(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req TrackOpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error().Err(err).Msg("invalid request payload")
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}
	if req.IdentifiedBy.Type == "" {
		respondWithError(c, domain.NewError(
			domain.ErrorCodeParameterInvalid,
			errors.New("missing identification scheme"),
			domain.WithMsg("identifiedBy.type is required"),
		))
		return
	}

	nonce := new(big.Int)
	if req.Nonce != "" {
		if _, ok := nonce.SetString(req.Nonce, 10); !ok {
			respondWithError(c, domain.NewError(
				domain.ErrorCodeParameterInvalid,
				errors.New("invalid nonce"),
				domain.WithMsg("nonce must be a decimal string"),
			))
			return
		}
	}

	calls := make([]domain.Call, 0, len(req.Calls))
	for _, call := range req.Calls {
		if !common.IsHexAddress(call.To) {
			respondWithError(c, domain.NewError(
				domain.ErrorCodeParameterInvalid,
				errors.New("invalid call target"),
				domain.WithMsg("call target must be an address"),
			))
			return
		}
		value := new(big.Int)
		if call.Value != "" {
			if _, ok := value.SetString(call.Value, 10); !ok {
				respondWithError(c, domain.NewError(
					domain.ErrorCodeParameterInvalid,
					errors.New("invalid call value"),
					domain.WithMsg("call value must be a decimal string"),
				))
				return
			}
		}
		calls = append(calls, domain.Call{
			To:    common.HexToAddress(call.To),
			Value: value,
			Data:  common.FromHex(call.Data),
		})
	}

	op := &domain.SubmittedAccountOp{
		AccountOp: domain.AccountOp{
			AccountAddr:    account,
			ChainID:        big.NewInt(req.ChainID),
			Nonce:          nonce,
			Calls:          calls,
			SigningKeyAddr: common.HexToAddress(req.SigningKey),
			SigningKeyType: domain.SigningKeyType(req.SigningScheme),
		},
		IdentifiedBy:      req.IdentifiedBy,
		Status:            domain.StatusBroadcastedButNotConfirmed,
		Timestamp:         time.Now(),
		IsSingletonDeploy: req.IsSingleton,
	}

	if err := h.tracker.AddAccountOp(c.Request.Context(), op); err != nil {
		logger.Error().Err(err).Msg("failed to track op")
		respondWithError(c, err)
		return
	}

	respondWithSuccessAndStatus(c, http.StatusCreated, op)
}

// Reconcile handles POST /accounts/:address/reconcile
func (h *ActivityHandler) Reconcile(c *gin.Context) {
	logger := h.logger(c.Request.Context()).With().Str("func", "Reconcile").Logger()

	account, err := parseAccountParam(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	if err := h.tracker.ReconcileAccount(c.Request.Context(), account); err != nil {
		logger.Error().Err(err).Msg("reconciliation failed")
		respondWithError(c, err)
		return
	}

	ops, err := h.tracker.GetAccountOps(c.Request.Context(), account)
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondWithSuccess(c, ops)
}

// Banners handles GET /accounts/:address/banners
func (h *ActivityHandler) Banners(c *gin.Context) {
	account, err := parseAccountParam(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondWithSuccess(c, h.tracker.Banners(account))
}

// AddMessageRequest represents the payload for recording a signed message
type AddMessageRequest struct {
	Content   string `json:"content" binding:"required"`
	Signature string `json:"signature" binding:"required"`
	ChainID   int64  `json:"chainId"`
	RequestID string `json:"fromUserRequestId"`
}

// AddMessage handles POST /accounts/:address/messages
func (h *ActivityHandler) AddMessage(c *gin.Context) {
	logger := h.logger(c.Request.Context()).With().Str("func", "AddMessage").Logger()

	account, err := parseAccountParam(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req AddMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error().Err(err).Msg("invalid request payload")
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}

	msg := &domain.SignedMessage{
		Content:           []byte(req.Content),
		Signature:         common.FromHex(req.Signature),
		AccountAddr:       account,
		FromUserRequestID: req.RequestID,
		Timestamp:         time.Now(),
	}
	if req.ChainID != 0 {
		msg.ChainID = big.NewInt(req.ChainID)
	}

	if err := h.messages.AddSignedMessage(c.Request.Context(), msg); err != nil {
		logger.Error().Err(err).Msg("failed to store signed message")
		respondWithError(c, err)
		return
	}
	respondWithSuccessAndStatus(c, http.StatusCreated, msg)
}

// Messages handles GET /accounts/:address/messages
func (h *ActivityHandler) Messages(c *gin.Context) {
	account, err := parseAccountParam(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	msgs, err := h.messages.FindSignedMessages(c.Request.Context(), account, 100)
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondWithSuccess(c, msgs)
}
