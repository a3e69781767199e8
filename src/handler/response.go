package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ambirelabs/walletcore/src/domain"
)

// StandardResponse is the envelope every endpoint returns.
type StandardResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   interface{} `json:"error,omitempty"`
}

func respondWithSuccess(c *gin.Context, data interface{}) {
	respondWithSuccessAndStatus(c, http.StatusOK, data)
}

func respondWithSuccessAndStatus(c *gin.Context, httpStatus int, data interface{}, message ...string) {
	msg := "OK"
	if len(message) > 0 && message[0] != "" {
		msg = message[0]
	}
	c.JSON(httpStatus, StandardResponse{Code: 0, Message: msg, Data: data})
}

// respondWithError maps any error onto the envelope and aborts the request.
// Errors that are not DomainError fall through to the generic internal code.
func respondWithError(c *gin.Context, err error) {
	var domainErr domain.DomainError
	// A non-matching errors.As leaves the zero DomainError, whose accessors
	// yield the internal-error defaults.
	_ = errors.As(err, &domainErr)

	message := domainErr.ClientMsg()
	if message == "" {
		message = err.Error()
	}

	response := StandardResponse{
		Code:    mapDomainErrorToCode(domainErr),
		Message: message,
	}
	if detail := domainErr.Detail(); detail != nil {
		response.Error = detail
	}

	zerolog.Ctx(c.Request.Context()).Error().
		Int("error_code", response.Code).
		Str("error_name", domainErr.Name()).
		Msg(message)

	_ = c.Error(err)
	c.AbortWithStatusJSON(domainErr.HTTPStatus(), response)
}

var errorCodeNumbers = map[domain.ErrorCode]int{
	domain.ErrorCodeParameterInvalid:     1001,
	domain.ErrorCodeResourceNotFound:     1002,
	domain.ErrorCodeSignaturePolicy:      1003,
	domain.ErrorCodeAuthNotAuthenticated: 1004,
	domain.ErrorCodeInternalProcess:      1005,
	domain.ErrorCodeRemoteProcess:        1006,
}

// mapDomainErrorToCode maps domain error names to numeric API response codes.
func mapDomainErrorToCode(domainErr domain.DomainError) int {
	if code, ok := errorCodeNumbers[domain.ErrorCode(domainErr.Name())]; ok {
		return code
	}
	return 1000
}
