// README: Shared handler utilities (JSON helpers, engine error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"routescc/internal/modules/matching"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, matching.ErrRideNotFound), errors.Is(err, matching.ErrDriverNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, matching.ErrTimeConflict), errors.Is(err, matching.ErrNotAssigned):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
