package handler

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ambirelabs/walletcore/src/domain"
)

const apiSecretHeader = "X-API-Secret"

func SetMiddlewares(ctx context.Context, router *gin.Engine) {
	router.Use(RequestLoggerMiddleware(ctx))
}

// RequestLoggerMiddleware derives a per-request logger from the root context,
// tagged with a request id so interleaved request logs can be told apart.
func RequestLoggerMiddleware(ctx context.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		zlog := zerolog.Ctx(ctx).With().
			Str("request_id", uuid.NewString()).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Logger()
		c.Request = c.Request.WithContext(zlog.WithContext(c.Request.Context()))
		c.Next()
	}
}

// SharedSecretMiddleware rejects requests whose X-API-Secret header does not
// match the configured secret. The comparison is constant time.
func SharedSecretMiddleware(apiSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader(apiSecretHeader)
		if provided == "" {
			respondWithError(c, domain.NewError(
				domain.ErrorCodeAuthNotAuthenticated,
				errors.New("missing API secret header"),
				domain.WithMsg("Missing API secret"),
			))
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiSecret)) != 1 {
			respondWithError(c, domain.NewError(
				domain.ErrorCodeAuthNotAuthenticated,
				errors.New("invalid API secret"),
				domain.WithMsg("Invalid API secret"),
			))
			return
		}
		c.Next()
	}
}
