// README: CSV batch upload handlers for rides and drivers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"routescc/internal/modules/importer"
	"routescc/internal/modules/matching"
)

type ImportHandler struct {
	engine *matching.Service
}

func NewImportHandler(engine *matching.Service) *ImportHandler {
	return &ImportHandler{engine: engine}
}

// ImportRides accepts a CSV body (id, pickup_address, start, end).
func (h *ImportHandler) ImportRides(c *gin.Context) {
	rides, err := importer.ParseRides(c.Request.Body)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.AddRides(c.Request.Context(), rides); err != nil {
		writeEngineError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"imported": len(rides)})
}

// ImportDrivers accepts a CSV body (id, address).
func (h *ImportHandler) ImportDrivers(c *gin.Context) {
	drivers, err := importer.ParseDrivers(c.Request.Body)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.AddDrivers(c.Request.Context(), drivers); err != nil {
		writeEngineError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"imported": len(drivers)})
}
