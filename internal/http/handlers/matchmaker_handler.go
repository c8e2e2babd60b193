// README: Operator handlers for rides, drivers, assignments, rejections, and
// matching runs.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"routescc/internal/modules/matching"
	"routescc/internal/types"
)

type MatchMakerHandler struct {
	engine *matching.Service
}

func NewMatchMakerHandler(engine *matching.Service) *MatchMakerHandler {
	return &MatchMakerHandler{engine: engine}
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type rideInput struct {
	ID            string    `json:"id" binding:"required"`
	PickupAddress string    `json:"pickup_address" binding:"required"`
	Start         time.Time `json:"start" binding:"required"`
	End           time.Time `json:"end" binding:"required"`
}

type driverInput struct {
	ID      string `json:"id" binding:"required"`
	Address string `json:"address" binding:"required"`
}

type pairInput struct {
	DriverID string `json:"driver_id" binding:"required"`
	RideID   string `json:"ride_id" binding:"required"`
}

type matchInput struct {
	MaxDistanceKm float64 `json:"max_distance_km"`
	PerDriverCap  int     `json:"per_driver_cap"`
	PerRideCap    int     `json:"per_ride_cap"`
	Force         bool    `json:"force"`
}

type suggestionView struct {
	DriverID        string     `json:"driver_id"`
	DistanceKm      float64    `json:"distance_km"`
	ConflictRideIDs []types.ID `json:"conflict_ride_ids,omitempty"`
}

type rideView struct {
	ID               string           `json:"id"`
	PickupAddress    string           `json:"pickup_address"`
	Start            time.Time        `json:"start"`
	End              time.Time        `json:"end"`
	AssignedDriverID string           `json:"assigned_driver_id,omitempty"`
	PossibleDrivers  []suggestionView `json:"possible_drivers"`
}

type slotView struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	RideID string    `json:"ride_id"`
}

type driverView struct {
	ID                 string     `json:"id"`
	Address            string     `json:"address"`
	UnavailableTimings []slotView `json:"unavailable_timings"`
	AcceptedRideIDs    []types.ID `json:"accepted_ride_ids,omitempty"`
}

func toRideView(r matching.Ride) rideView {
	v := rideView{
		ID:               string(r.ID),
		PickupAddress:    r.PickupAddress,
		Start:            r.Start,
		End:              r.End,
		AssignedDriverID: string(r.AssignedDriverID),
		PossibleDrivers:  make([]suggestionView, 0, len(r.PossibleDrivers)),
	}
	for _, sg := range r.PossibleDrivers {
		v.PossibleDrivers = append(v.PossibleDrivers, suggestionView{
			DriverID:        string(sg.DriverID),
			DistanceKm:      sg.DistanceKm,
			ConflictRideIDs: sg.ConflictRideIDs,
		})
	}
	return v
}

func toDriverView(d matching.Driver) driverView {
	v := driverView{
		ID:                 string(d.ID),
		Address:            d.Address,
		UnavailableTimings: make([]slotView, 0, len(d.UnavailableTimings)),
		AcceptedRideIDs:    d.AcceptedRideIDs(),
	}
	for _, slot := range d.UnavailableTimings {
		v.UnavailableTimings = append(v.UnavailableTimings, slotView{
			Start:  slot.Start,
			End:    slot.End,
			RideID: string(slot.RideID),
		})
	}
	return v
}

// ---------------------------------------------------------------------------
// Rides and drivers
// ---------------------------------------------------------------------------

func (h *MatchMakerHandler) ListRides(c *gin.Context) {
	rides := h.engine.Rides(c.Request.Context())
	views := make([]rideView, 0, len(rides))
	for _, r := range rides {
		views = append(views, toRideView(r))
	}
	writeJSON(c, http.StatusOK, gin.H{"rides": views})
}

func (h *MatchMakerHandler) ListDrivers(c *gin.Context) {
	drivers := h.engine.Drivers(c.Request.Context())
	views := make([]driverView, 0, len(drivers))
	for _, d := range drivers {
		views = append(views, toDriverView(d))
	}
	writeJSON(c, http.StatusOK, gin.H{"drivers": views})
}

func (h *MatchMakerHandler) AddRides(c *gin.Context) {
	var inputs []rideInput
	if err := c.ShouldBindJSON(&inputs); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	rides := make([]*matching.Ride, 0, len(inputs))
	for _, in := range inputs {
		if !in.Start.Before(in.End) {
			writeError(c, http.StatusBadRequest, "ride ends before it starts")
			return
		}
		rides = append(rides, &matching.Ride{
			ID:            types.ID(in.ID),
			PickupAddress: in.PickupAddress,
			Start:         in.Start,
			End:           in.End,
		})
	}
	if err := h.engine.AddRides(c.Request.Context(), rides); err != nil {
		writeEngineError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"added": len(rides)})
}

func (h *MatchMakerHandler) AddDrivers(c *gin.Context) {
	var inputs []driverInput
	if err := c.ShouldBindJSON(&inputs); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	drivers := make([]*matching.Driver, 0, len(inputs))
	for _, in := range inputs {
		drivers = append(drivers, &matching.Driver{ID: types.ID(in.ID), Address: in.Address})
	}
	if err := h.engine.AddDrivers(c.Request.Context(), drivers); err != nil {
		writeEngineError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"added": len(drivers)})
}

func (h *MatchMakerHandler) DeleteRide(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing ride id")
		return
	}
	if err := h.engine.DeleteRide(c.Request.Context(), types.ID(id)); err != nil {
		writeEngineError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"deleted": id})
}

func (h *MatchMakerHandler) DeleteDriver(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing driver id")
		return
	}
	if err := h.engine.DeleteDriver(c.Request.Context(), types.ID(id)); err != nil {
		writeEngineError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"deleted": id})
}

// ---------------------------------------------------------------------------
// Assignments and rejections
// ---------------------------------------------------------------------------

func (h *MatchMakerHandler) Confirm(c *gin.Context) {
	var in pairInput
	if err := c.ShouldBindJSON(&in); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.Confirm(c.Request.Context(), types.ID(in.DriverID), types.ID(in.RideID)); err != nil {
		writeEngineError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"assigned": true})
}

func (h *MatchMakerHandler) Undo(c *gin.Context) {
	var in pairInput
	if err := c.ShouldBindJSON(&in); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.Undo(c.Request.Context(), types.ID(in.DriverID), types.ID(in.RideID)); err != nil {
		writeEngineError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"assigned": false})
}

func (h *MatchMakerHandler) Reject(c *gin.Context) {
	var in pairInput
	if err := c.ShouldBindJSON(&in); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.Reject(c.Request.Context(), types.ID(in.DriverID), types.ID(in.RideID)); err != nil {
		writeEngineError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rejected": true})
}

// ---------------------------------------------------------------------------
// Matching
// ---------------------------------------------------------------------------

func (h *MatchMakerHandler) RunMatching(c *gin.Context) {
	var in matchInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&in); err != nil {
			writeError(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	res, err := h.engine.RunMatching(c.Request.Context(), matching.MatchParams{
		MaxDistanceKm: in.MaxDistanceKm,
		PerDriverCap:  in.PerDriverCap,
		PerRideCap:    in.PerRideCap,
		Force:         in.Force,
	})
	if err != nil {
		writeEngineError(c, err)
		return
	}
	if !res.Ran {
		writeJSON(c, http.StatusOK, gin.H{"message": "matching algorithm not run"})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"rounds":            res.Rounds,
		"final_distance_km": res.FinalDistanceKm,
		"matched_rides":     res.MatchedRides,
		"unmatched_rides":   res.UnmatchedRides - res.MatchedRides,
	})
}
