// README: MatchMaker engine: entity pool, commit pipeline, and the
// radius-widening suggestion run.
package matching

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"routescc/internal/config"
	"routescc/internal/logging"
	"routescc/internal/observability"
	"routescc/internal/types"
)

// SnapshotStore is the persistence collaborator. LoadLatest returns nil when
// nothing has been committed yet.
type SnapshotStore interface {
	LoadLatest(ctx context.Context) (*Snapshot, error)
	Commit(ctx context.Context, snap *Snapshot) error
	AppendAudit(ctx context.Context, actor, message string) error
}

// Distancer is the distance collaborator between two street addresses.
type Distancer interface {
	DistanceKm(ctx context.Context, origin, destination string) (float64, error)
}

var (
	ErrRideNotFound   = errors.New("ride not found")
	ErrDriverNotFound = errors.New("driver not found")
	ErrTimeConflict   = errors.New("ride overlaps an existing commitment")
	ErrNotAssigned    = errors.New("ride is not assigned to that driver")
)

const (
	// retentionWindow prunes rides whose end time is this far in the past.
	// Earlier documentation said one week; the shipped guard compared against
	// two days, and two days is what operations relies on today.
	retentionWindow = 48 * time.Hour

	// wideningLimitKm stops the radius-widening loop once the threshold
	// reaches this many kilometres.
	wideningLimitKm = 80.0
	// wideningRideCap: widening only fires for pools of at most this many
	// unmatched rides.
	wideningRideCap = 200
	// maxWideningRounds hard-bounds the loop even if a threshold below 1km
	// would otherwise stall the doubling.
	maxWideningRounds = 8
)

// Fallback matching defaults when config leaves them unset.
const (
	defaultMaxDistanceKm = 10
	defaultPerDriverCap  = 200
	defaultPerRideCap    = 5
)

// MatchParams tune one matching invocation. Zero fields fall back to the
// configured defaults.
type MatchParams struct {
	MaxDistanceKm float64
	PerDriverCap  int
	PerRideCap    int
	Force         bool
}

// MatchResult reports what a matching invocation did. Ran is false when the
// engine skipped the run because nothing changed and the call was not forced.
type MatchResult struct {
	Ran             bool
	Rounds          int
	FinalDistanceKm float64
	MatchedRides    int
	UnmatchedRides  int
}

// Service is the suggestion engine. One instance owns its in-memory pool for
// its whole lifetime; the mutex serializes operator actions. The backing store
// stays last-writer-wins across instances.
type Service struct {
	mu       sync.Mutex
	store    SnapshotStore
	distance Distancer
	log      logging.Logger
	defaults config.MatchingConfig

	rides    []*Ride
	drivers  []*Driver
	rejected map[RejectedPair]struct{}
	changed  bool
}

// NewService reconstructs the engine from the latest persisted snapshot.
func NewService(ctx context.Context, store SnapshotStore, distance Distancer, log logging.Logger, defaults config.MatchingConfig) (*Service, error) {
	if defaults.MaxDistanceKm <= 0 {
		defaults.MaxDistanceKm = defaultMaxDistanceKm
	}
	if defaults.PerDriverCap <= 0 {
		defaults.PerDriverCap = defaultPerDriverCap
	}
	if defaults.PerRideCap <= 0 {
		defaults.PerRideCap = defaultPerRideCap
	}

	s := &Service{
		store:    store,
		distance: distance,
		log:      log,
		defaults: defaults,
		rejected: make(map[RejectedPair]struct{}),
	}
	snap, err := store.LoadLatest(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest snapshot: %w", err)
	}
	if snap != nil {
		s.rides = snap.Rides
		s.drivers = snap.Drivers
		for _, pair := range snap.Rejected {
			s.rejected[pair] = struct{}{}
		}
	}
	return s, nil
}

// ----------------------------------------------------------------------------
// Operator actions
// ----------------------------------------------------------------------------

// AddRides appends rides to the pool and commits.
func (s *Service) AddRides(ctx context.Context, rides []*Ride) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rides = append(s.rides, rides...)
	if err := s.commit(ctx); err != nil {
		return err
	}
	s.audit(ctx, "Rides added manually.")
	return nil
}

// AddDrivers appends drivers to the pool and commits.
func (s *Service) AddDrivers(ctx context.Context, drivers []*Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.drivers = append(s.drivers, drivers...)
	if err := s.commit(ctx); err != nil {
		return err
	}
	s.audit(ctx, "Drivers added manually.")
	return nil
}

// DeleteRide removes the ride and releases any driver slot it created.
func (s *Service) DeleteRide(ctx context.Context, rideID types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rideByID(rideID) == nil {
		s.audit(ctx, "Failed to delete ride %q: not found.", rideID)
		return ErrRideNotFound
	}
	kept := s.rides[:0]
	for _, r := range s.rides {
		if r.ID != rideID {
			kept = append(kept, r)
		}
	}
	s.rides = kept
	for _, d := range s.drivers {
		d.ReleaseRide(rideID)
	}
	if err := s.commit(ctx); err != nil {
		return err
	}
	s.audit(ctx, "Ride %q deleted.", rideID)
	return nil
}

// DeleteDriver removes the driver and unassigns any ride it held.
func (s *Service) DeleteDriver(ctx context.Context, driverID types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.driverByID(driverID) == nil {
		s.audit(ctx, "Failed to delete driver %q: not found.", driverID)
		return ErrDriverNotFound
	}
	kept := s.drivers[:0]
	for _, d := range s.drivers {
		if d.ID != driverID {
			kept = append(kept, d)
		}
	}
	s.drivers = kept
	for _, r := range s.rides {
		if r.AssignedDriverID == driverID {
			r.AssignedDriverID = ""
		}
	}
	if err := s.commit(ctx); err != nil {
		return err
	}
	s.audit(ctx, "Driver %q deleted.", driverID)
	return nil
}

// Rides returns a copy of every retained ride.
func (s *Service) Rides(ctx context.Context) []Ride {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Ride, len(s.rides))
	for i, r := range s.rides {
		cp := *r
		cp.PossibleDrivers = append([]Suggestion(nil), r.PossibleDrivers...)
		out[i] = cp
	}
	s.audit(ctx, "List of all rides retrieved.")
	return out
}

// Drivers returns a copy of every registered driver.
func (s *Service) Drivers(ctx context.Context) []Driver {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Driver, len(s.drivers))
	for i, d := range s.drivers {
		cp := *d
		cp.UnavailableTimings = append([]TimeSlot(nil), d.UnavailableTimings...)
		out[i] = cp
	}
	s.audit(ctx, "List of all drivers retrieved.")
	return out
}

// Confirm assigns the driver to the ride. It fails without mutating anything
// when either id is unknown or the ride's window overlaps one of the driver's
// existing commitments.
func (s *Service) Confirm(ctx context.Context, driverID, rideID types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	driver := s.driverByID(driverID)
	ride := s.rideByID(rideID)
	if driver == nil || ride == nil {
		s.audit(ctx, "Failed to assign driver %q to ride %q.", driverID, rideID)
		if driver == nil {
			return ErrDriverNotFound
		}
		return ErrRideNotFound
	}
	if !driver.AcceptRide(ride) {
		s.audit(ctx, "Failed to assign driver %q to ride %q.", driverID, rideID)
		return ErrTimeConflict
	}
	ride.AssignedDriverID = driver.ID
	ride.PossibleDrivers = nil
	if err := s.commit(ctx); err != nil {
		return err
	}
	s.audit(ctx, "Assigned driver %q to ride %q.", driverID, rideID)
	return nil
}

// Undo reverses a confirmed assignment.
func (s *Service) Undo(ctx context.Context, driverID, rideID types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	driver := s.driverByID(driverID)
	ride := s.rideByID(rideID)
	if driver == nil || ride == nil {
		s.audit(ctx, "Failed to remove driver %q from ride %q.", driverID, rideID)
		if driver == nil {
			return ErrDriverNotFound
		}
		return ErrRideNotFound
	}
	if ride.AssignedDriverID != driverID {
		s.audit(ctx, "Failed to remove driver %q from ride %q.", driverID, rideID)
		return ErrNotAssigned
	}
	driver.ReleaseRide(rideID)
	ride.AssignedDriverID = ""
	if err := s.commit(ctx); err != nil {
		return err
	}
	s.audit(ctx, "Removed driver %q from ride %q.", driverID, rideID)
	return nil
}

// Reject permanently excludes the pairing from future suggestions (until the
// ride itself is pruned).
func (s *Service) Reject(ctx context.Context, driverID, rideID types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rejected[RejectedPair{DriverID: driverID, RideID: rideID}] = struct{}{}
	if err := s.commit(ctx); err != nil {
		return err
	}
	s.audit(ctx, "Rejected pair added: %q and %q.", rideID, driverID)
	return nil
}

// RunMatching re-runs the suggestion pipeline. With clean state and no force
// flag it is a no-op and reports Ran=false. It mutates suggestions in memory
// only; the next commit persists them.
func (s *Service) RunMatching(ctx context.Context, p MatchParams) (MatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runPipeline(ctx, s.withDefaults(p))
}

// ----------------------------------------------------------------------------
// Commit pipeline
// ----------------------------------------------------------------------------

// commit runs retention pruning, de-duplication, rejected-pair garbage
// collection, a matching pass, and persists the whole snapshot. Callers hold
// the mutex.
func (s *Service) commit(ctx context.Context) error {
	s.changed = true
	s.pruneOldRides(time.Now())
	s.dedupe()
	s.purgeRejected()
	if _, err := s.runPipeline(ctx, s.withDefaults(MatchParams{})); err != nil {
		return err
	}
	snap := &Snapshot{Rides: s.rides, Drivers: s.drivers, Rejected: s.rejectedPairs()}
	if err := s.store.Commit(ctx, snap); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// pruneOldRides drops rides that ended more than the retention window ago.
func (s *Service) pruneOldRides(now time.Time) {
	kept := s.rides[:0]
	for _, r := range s.rides {
		if now.Sub(r.End) < retentionWindow {
			kept = append(kept, r)
		}
	}
	s.rides = kept
}

// dedupe keeps the first-seen record per id. First-seen (not last-write-wins)
// matches what operators have relied on so far.
func (s *Service) dedupe() {
	seenRides := make(map[types.ID]struct{}, len(s.rides))
	rides := s.rides[:0]
	for _, r := range s.rides {
		if _, ok := seenRides[r.ID]; ok {
			continue
		}
		seenRides[r.ID] = struct{}{}
		rides = append(rides, r)
	}
	s.rides = rides

	seenDrivers := make(map[types.ID]struct{}, len(s.drivers))
	drivers := s.drivers[:0]
	for _, d := range s.drivers {
		if _, ok := seenDrivers[d.ID]; ok {
			continue
		}
		seenDrivers[d.ID] = struct{}{}
		drivers = append(drivers, d)
	}
	s.drivers = drivers
}

// purgeRejected garbage-collects pairs whose ride is no longer retained.
func (s *Service) purgeRejected() {
	current := make(map[types.ID]struct{}, len(s.rides))
	for _, r := range s.rides {
		current[r.ID] = struct{}{}
	}
	for pair := range s.rejected {
		if _, ok := current[pair.RideID]; !ok {
			delete(s.rejected, pair)
		}
	}
}

// ----------------------------------------------------------------------------
// Matching pipeline
// ----------------------------------------------------------------------------

// runPipeline builds, solves, and interprets the flow network, widening the
// distance threshold until enough rides are covered or the bounds are hit.
// Callers hold the mutex.
func (s *Service) runPipeline(ctx context.Context, p MatchParams) (MatchResult, error) {
	if !s.changed && !p.Force {
		observability.MatchingSkippedTotal.Inc()
		return MatchResult{Ran: false}, nil
	}

	started := time.Now()
	dist := p.MaxDistanceKm
	res := MatchResult{Ran: true}
	for round := 0; ; round++ {
		unmatched := s.collectUnmatched()
		n, err := s.buildNetwork(ctx, unmatched, dist, p)
		if err != nil {
			return MatchResult{}, err
		}
		if err := n.solve(); err != nil {
			return MatchResult{}, err
		}
		matched := s.interpret(n, unmatched)

		res.Rounds = round + 1
		res.FinalDistanceKm = dist
		res.MatchedRides = matched
		res.UnmatchedRides = len(unmatched)
		s.audit(ctx, "match summary: distance limit: %g, matches made: %d, rides unmatched: %d",
			dist, matched, len(unmatched)-matched)

		if matched >= len(unmatched) || len(unmatched) > wideningRideCap || dist >= wideningLimitKm {
			break
		}
		if round+1 >= maxWideningRounds {
			break
		}
		dist = math.Ceil(dist * 2)
	}
	s.changed = false

	observability.MatchingRunsTotal.Inc()
	observability.WideningRounds.Observe(float64(res.Rounds - 1))
	observability.MatchingDuration.Observe(time.Since(started).Seconds())
	s.log.Debug("matching pass complete",
		"rounds", res.Rounds,
		"final_distance_km", res.FinalDistanceKm,
		"matched", res.MatchedRides,
		"unmatched", res.UnmatchedRides-res.MatchedRides,
	)
	return res, nil
}

// collectUnmatched returns the rides eligible for matching, clearing their
// previous candidate lists.
func (s *Service) collectUnmatched() []*Ride {
	var unmatched []*Ride
	for _, r := range s.rides {
		if !r.Assigned() {
			r.PossibleDrivers = nil
			unmatched = append(unmatched, r)
		}
	}
	return unmatched
}

// interpret reads saturated unit edges back into per-ride candidate lists and
// returns how many rides received at least one suggestion.
func (s *Service) interpret(n *network, unmatched []*Ride) int {
	matchedRides := make(map[int]struct{})
	for _, e := range n.edges {
		if !n.saturated(e) {
			continue
		}
		driver := s.drivers[e.driver]
		ride := unmatched[e.ride]
		ride.PossibleDrivers = append(ride.PossibleDrivers, Suggestion{
			DriverID:        driver.ID,
			DistanceKm:      e.distanceKm,
			ConflictRideIDs: driver.ConflictingRides(ride),
		})
		matchedRides[e.ride] = struct{}{}
		observability.SuggestionsTotal.Inc()
	}
	for j := range matchedRides {
		sortByDistance(unmatched[j].PossibleDrivers, func(sg Suggestion) float64 { return sg.DistanceKm })
	}
	return len(matchedRides)
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

func (s *Service) withDefaults(p MatchParams) MatchParams {
	if p.MaxDistanceKm <= 0 {
		p.MaxDistanceKm = s.defaults.MaxDistanceKm
	}
	if p.PerDriverCap <= 0 {
		p.PerDriverCap = s.defaults.PerDriverCap
	}
	if p.PerRideCap <= 0 {
		p.PerRideCap = s.defaults.PerRideCap
	}
	return p
}

func (s *Service) rideByID(id types.ID) *Ride {
	for _, r := range s.rides {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (s *Service) driverByID(id types.ID) *Driver {
	for _, d := range s.drivers {
		if d.ID == id {
			return d
		}
	}
	return nil
}

func (s *Service) rejectedPairs() []RejectedPair {
	pairs := make([]RejectedPair, 0, len(s.rejected))
	for pair := range s.rejected {
		pairs = append(pairs, pair)
	}
	return pairs
}

// audit appends one log entry for the acting requester. Direct invocations
// (no actor on the context) are not audited, matching how tooling runs the
// engine outside the HTTP surface.
func (s *Service) audit(ctx context.Context, format string, args ...interface{}) {
	actor := ActorFrom(ctx)
	if actor == "" {
		return
	}
	if err := s.store.AppendAudit(ctx, actor, fmt.Sprintf(format, args...)); err != nil {
		s.log.Warn("audit append failed", "error", err)
	}
}

// sortByDistance performs an insertion sort (fine for small N) on any slice
// where each element exposes a distance via the accessor function.
func sortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}

type actorKey struct{}

// WithActor tags the context with the requester identity recorded in the
// audit log (the HTTP layer uses the client address).
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the requester identity, or "" for direct invocations.
func ActorFrom(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok {
		return v
	}
	return ""
}
