package handlers

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/orrn/kitchenprint/internal/core"
	"github.com/orrn/kitchenprint/internal/db"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// statusFor maps domain errors to HTTP status codes. Anything not marked as a store
// failure, escpos.ErrEncoding included, is treated as bad input.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrJobNotFound), errors.Is(err, core.ErrPrinterNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrJobNotFailed), errors.Is(err, db.ErrDuplicatePrinterName):
		return http.StatusConflict
	case errors.Is(err, core.ErrPersistence):
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		c.JSON(status, ErrorResponse{Error: "internal error"})
		return
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
}

func badRequest(c *gin.Context, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Message = err.Error()
	}
	c.JSON(http.StatusBadRequest, resp)
}
