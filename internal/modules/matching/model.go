// README: Ride and Driver records plus time-conflict rules for the suggestion engine.
package matching

import (
	"time"

	"routescc/internal/types"
)

// Suggestion is one candidate driver proposed for a ride, pending operator
// confirmation. Candidates reference drivers by id only.
type Suggestion struct {
	DriverID        types.ID   `bson:"driver_id"`
	DistanceKm      float64    `bson:"distance_km"`
	ConflictRideIDs []types.ID `bson:"conflict_ride_ids"`
}

// Ride is a requested trip. AssignedDriverID is empty while the ride is
// unmatched; PossibleDrivers is rebuilt on every matching run and is always
// empty once a driver is assigned.
type Ride struct {
	ID               types.ID     `bson:"id"`
	PickupAddress    string       `bson:"pickup_address"`
	Start            time.Time    `bson:"start"`
	End              time.Time    `bson:"end"`
	AssignedDriverID types.ID     `bson:"assigned_driver_id,omitempty"`
	PossibleDrivers  []Suggestion `bson:"possible_drivers,omitempty"`
}

func (r *Ride) Assigned() bool { return r.AssignedDriverID != "" }

// TimeSlot is a driver's committed interval, tied to the ride that created it.
type TimeSlot struct {
	Start  time.Time `bson:"start"`
	End    time.Time `bson:"end"`
	RideID types.ID  `bson:"ride_id"`
}

// overlaps uses half-open interval semantics: touching endpoints do not clash.
func (s TimeSlot) overlaps(start, end time.Time) bool {
	return s.Start.Before(end) && start.Before(s.End)
}

// Driver is a registered driver. UnavailableTimings holds one slot per
// confirmed ride; slots never overlap (enforced by AcceptRide).
type Driver struct {
	ID                 types.ID   `bson:"id"`
	Address            string     `bson:"address"`
	UnavailableTimings []TimeSlot `bson:"unavailable_timings,omitempty"`
}

// ConflictingRides returns the ids of this driver's committed rides whose
// slots overlap the given ride's window.
func (d *Driver) ConflictingRides(r *Ride) []types.ID {
	var conflicts []types.ID
	for _, slot := range d.UnavailableTimings {
		if slot.overlaps(r.Start, r.End) {
			conflicts = append(conflicts, slot.RideID)
		}
	}
	return conflicts
}

// AcceptRide commits the driver to the ride's window. It reports false and
// changes nothing when the window overlaps an existing commitment.
func (d *Driver) AcceptRide(r *Ride) bool {
	for _, slot := range d.UnavailableTimings {
		if slot.overlaps(r.Start, r.End) {
			return false
		}
	}
	d.UnavailableTimings = append(d.UnavailableTimings, TimeSlot{Start: r.Start, End: r.End, RideID: r.ID})
	return true
}

// ReleaseRide drops any slot that the given ride created.
func (d *Driver) ReleaseRide(rideID types.ID) {
	kept := d.UnavailableTimings[:0]
	for _, slot := range d.UnavailableTimings {
		if slot.RideID != rideID {
			kept = append(kept, slot)
		}
	}
	d.UnavailableTimings = kept
}

// AcceptedRideIDs derives the driver's confirmed rides from its slots.
func (d *Driver) AcceptedRideIDs() []types.ID {
	ids := make([]types.ID, 0, len(d.UnavailableTimings))
	for _, slot := range d.UnavailableTimings {
		ids = append(ids, slot.RideID)
	}
	return ids
}

// RejectedPair marks a (driver, ride) combination as permanently excluded from
// suggestions while the ride is retained.
type RejectedPair struct {
	DriverID types.ID `bson:"driver_id"`
	RideID   types.ID `bson:"ride_id"`
}
