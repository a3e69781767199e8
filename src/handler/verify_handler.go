package handler

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ambirelabs/walletcore/signature"
	"github.com/ambirelabs/walletcore/src/domain"
	"github.com/ambirelabs/walletcore/src/service"
)

type VerifyHandler struct {
	blockchain *service.BlockchainService
}

func NewVerifyHandler(blockchain *service.BlockchainService) *VerifyHandler {
	return &VerifyHandler{blockchain: blockchain}
}

func (h *VerifyHandler) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("handler", "verify").Logger()
	return &l
}

// VerifyMessageRequest represents a signature verification request.
// Exactly one of Message (UTF-8 text, hashed with the EIP-191 prefix) or
// Hash (precomputed 32-byte digest) must be provided.
type VerifyMessageRequest struct {
	Signer    string `json:"signer" binding:"required"`
	ChainID   int64  `json:"chainId" binding:"required"`
	Message   string `json:"message,omitempty"`
	Hash      string `json:"hash,omitempty"`
	Signature string `json:"signature" binding:"required"`
}

type VerifyMessageResponse struct {
	Result signature.VerifyResult `json:"result"`
}

// VerifyMessage handles POST /signatures/verify
func (h *VerifyHandler) VerifyMessage(c *gin.Context) {
	logger := h.logger(c.Request.Context()).With().Str("func", "VerifyMessage").Logger()

	var req VerifyMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error().Err(err).Msg("invalid request payload")
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}
	if !common.IsHexAddress(req.Signer) {
		respondWithError(c, domain.NewError(
			domain.ErrorCodeParameterInvalid,
			errors.New("invalid signer address"),
			domain.WithMsg("Invalid signer address"),
		))
		return
	}

	var hash common.Hash
	switch {
	case req.Hash != "":
		raw := common.FromHex(req.Hash)
		if len(raw) != common.HashLength {
			respondWithError(c, domain.NewError(
				domain.ErrorCodeParameterInvalid,
				errors.New("hash must be 32 bytes"),
				domain.WithMsg("Invalid hash"),
			))
			return
		}
		hash = common.BytesToHash(raw)
	case req.Message != "":
		hash = common.BytesToHash(accounts.TextHash([]byte(req.Message)))
	default:
		respondWithError(c, domain.NewError(
			domain.ErrorCodeParameterInvalid,
			errors.New("either message or hash is required"),
			domain.WithMsg("Either message or hash is required"),
		))
		return
	}

	client, err := h.blockchain.GetClient(req.ChainID)
	if err != nil {
		respondWithError(c, domain.NewError(domain.ErrorCodeResourceNotFound, err, domain.WithMsg("Unsupported chain")))
		return
	}

	result, err := signature.VerifyMessage(
		c.Request.Context(),
		client,
		common.HexToAddress(req.Signer),
		hash,
		common.FromHex(req.Signature),
	)
	if err != nil && result == signature.VerifyUnknown {
		logger.Error().Err(err).Msg("verification could not be carried out")
		respondWithError(c, err)
		return
	}

	respondWithSuccess(c, VerifyMessageResponse{Result: result})
}
