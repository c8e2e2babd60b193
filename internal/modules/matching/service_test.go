// README: Engine tests: matching scenarios, caps, rejection durability,
// retention, and the changed-state machine.
package matching

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"routescc/internal/config"
	"routescc/internal/logging"
	"routescc/internal/types"
)

// ---------------------------------------------------------------------------
// In-memory collaborators
// ---------------------------------------------------------------------------

// mockSnapshotStore is an in-memory SnapshotStore recording every commit and
// audit entry.
type mockSnapshotStore struct {
	snapshots []*Snapshot
	audits    []string
}

func (m *mockSnapshotStore) LoadLatest(_ context.Context) (*Snapshot, error) {
	if len(m.snapshots) == 0 {
		return nil, nil
	}
	return m.snapshots[len(m.snapshots)-1], nil
}

func (m *mockSnapshotStore) Commit(_ context.Context, snap *Snapshot) error {
	cp := &Snapshot{
		Rides:    append([]*Ride(nil), snap.Rides...),
		Drivers:  append([]*Driver(nil), snap.Drivers...),
		Rejected: append([]RejectedPair(nil), snap.Rejected...),
	}
	m.snapshots = append(m.snapshots, cp)
	return nil
}

func (m *mockSnapshotStore) AppendAudit(_ context.Context, actor, message string) error {
	m.audits = append(m.audits, actor+": "+message)
	return nil
}

func (m *mockSnapshotStore) latest(t *testing.T) *Snapshot {
	t.Helper()
	if len(m.snapshots) == 0 {
		t.Fatal("no snapshot committed")
	}
	return m.snapshots[len(m.snapshots)-1]
}

// stubDistancer resolves distances from a fixed table; unknown pairs are far
// away. lookups counts collaborator calls.
type stubDistancer struct {
	km      map[string]float64
	lookups int
}

func (s *stubDistancer) DistanceKm(_ context.Context, origin, destination string) (float64, error) {
	s.lookups++
	if v, ok := s.km[origin+"|"+destination]; ok {
		return v, nil
	}
	return 999, nil
}

func (s *stubDistancer) set(origin, destination string, km float64) {
	s.km[origin+"|"+destination] = km
}

type failingDistancer struct{ err error }

func (f failingDistancer) DistanceKm(context.Context, string, string) (float64, error) {
	return 0, f.err
}

func newTestService(t *testing.T) (*Service, *mockSnapshotStore, *stubDistancer) {
	t.Helper()
	store := &mockSnapshotStore{}
	dist := &stubDistancer{km: make(map[string]float64)}
	svc, err := NewService(context.Background(), store, dist, logging.Nop(), config.MatchingConfig{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, store, dist
}

func testRide(id types.ID, pickup string, hoursFromNow int) *Ride {
	start := time.Now().Add(time.Duration(hoursFromNow) * time.Hour)
	return &Ride{
		ID:            id,
		PickupAddress: pickup,
		Start:         start,
		End:           start.Add(time.Hour),
	}
}

func suggestionsFor(t *testing.T, svc *Service, rideID types.ID) []Suggestion {
	t.Helper()
	for _, r := range svc.Rides(context.Background()) {
		if r.ID == rideID {
			return r.PossibleDrivers
		}
	}
	t.Fatalf("ride %s not found", rideID)
	return nil
}

// ---------------------------------------------------------------------------
// Scenario A: trivial match
// ---------------------------------------------------------------------------

func TestTrivialMatch(t *testing.T) {
	svc, _, dist := newTestService(t)
	ctx := context.Background()
	dist.set("home", "pickup", 0)

	if err := svc.AddDrivers(ctx, []*Driver{{ID: "D", Address: "home"}}); err != nil {
		t.Fatalf("add driver: %v", err)
	}
	if err := svc.AddRides(ctx, []*Ride{testRide("R", "pickup", 2)}); err != nil {
		t.Fatalf("add ride: %v", err)
	}

	got := suggestionsFor(t, svc, "R")
	if len(got) != 1 {
		t.Fatalf("expected exactly one suggestion, got %v", got)
	}
	if got[0].DriverID != "D" || got[0].DistanceKm != 0 || len(got[0].ConflictRideIDs) != 0 {
		t.Fatalf("expected (D, 0, no conflicts), got %+v", got[0])
	}
}

// ---------------------------------------------------------------------------
// Scenario B: a rejected pair never reappears, even after widening
// ---------------------------------------------------------------------------

func TestRejectionExcludes(t *testing.T) {
	svc, _, dist := newTestService(t)
	ctx := context.Background()
	dist.set("home", "pickup", 0)

	if err := svc.AddDrivers(ctx, []*Driver{{ID: "D", Address: "home"}}); err != nil {
		t.Fatal(err)
	}
	if err := svc.AddRides(ctx, []*Ride{testRide("R", "pickup", 2)}); err != nil {
		t.Fatal(err)
	}
	if err := svc.Reject(ctx, "D", "R"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	if got := suggestionsFor(t, svc, "R"); len(got) != 0 {
		t.Fatalf("rejected pair resurfaced: %v", got)
	}

	// Force a fresh run and let it widen all the way out.
	res, err := svc.RunMatching(ctx, MatchParams{Force: true})
	if err != nil {
		t.Fatalf("run matching: %v", err)
	}
	if res.FinalDistanceKm < 80 {
		t.Fatalf("expected widening to reach the 80km bound, stopped at %g", res.FinalDistanceKm)
	}
	if got := suggestionsFor(t, svc, "R"); len(got) != 0 {
		t.Fatalf("rejected pair resurfaced after widening: %v", got)
	}
}

// ---------------------------------------------------------------------------
// Scenario C: confirm fails on a time conflict and mutates nothing
// ---------------------------------------------------------------------------

func TestConflictOnConfirm(t *testing.T) {
	svc, _, dist := newTestService(t)
	ctx := context.Background()
	dist.set("home", "p1", 1)
	dist.set("home", "p2", 1)

	if err := svc.AddDrivers(ctx, []*Driver{{ID: "D", Address: "home"}}); err != nil {
		t.Fatal(err)
	}
	r1 := testRide("R1", "p1", 2)
	r2 := testRide("R2", "p2", 2) // same window as R1
	if err := svc.AddRides(ctx, []*Ride{r1, r2}); err != nil {
		t.Fatal(err)
	}
	if err := svc.Confirm(ctx, "D", "R1"); err != nil {
		t.Fatalf("first confirm: %v", err)
	}

	err := svc.Confirm(ctx, "D", "R2")
	if !errors.Is(err, ErrTimeConflict) {
		t.Fatalf("expected ErrTimeConflict, got %v", err)
	}

	drivers := svc.Drivers(ctx)
	if len(drivers[0].UnavailableTimings) != 1 {
		t.Fatalf("conflicting confirm must not add a slot: %v", drivers[0].UnavailableTimings)
	}
	for _, r := range svc.Rides(ctx) {
		if r.ID == "R2" && r.Assigned() {
			t.Fatal("conflicting confirm must not assign the ride")
		}
	}
}

// ---------------------------------------------------------------------------
// Scenario D: per-driver cap
// ---------------------------------------------------------------------------

func TestPerDriverCap(t *testing.T) {
	svc, _, dist := newTestService(t)
	ctx := context.Background()
	dist.set("home", "p1", 1)
	dist.set("home", "p2", 1)

	if err := svc.AddDrivers(ctx, []*Driver{{ID: "D", Address: "home"}}); err != nil {
		t.Fatal(err)
	}
	if err := svc.AddRides(ctx, []*Ride{testRide("R1", "p1", 2), testRide("R2", "p2", 30)}); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.RunMatching(ctx, MatchParams{PerDriverCap: 1, Force: true}); err != nil {
		t.Fatalf("run matching: %v", err)
	}

	withCandidate := 0
	for _, r := range svc.Rides(ctx) {
		switch len(r.PossibleDrivers) {
		case 0:
		case 1:
			withCandidate++
		default:
			t.Fatalf("ride %s has %d candidates with a cap of 1", r.ID, len(r.PossibleDrivers))
		}
	}
	if withCandidate != 1 {
		t.Fatalf("exactly one ride should hold the driver, got %d", withCandidate)
	}
}

func TestPerRideCap(t *testing.T) {
	svc, _, dist := newTestService(t)
	ctx := context.Background()
	drivers := make([]*Driver, 4)
	for i := range drivers {
		addr := fmt.Sprintf("home%d", i)
		drivers[i] = &Driver{ID: types.ID(fmt.Sprintf("D%d", i)), Address: addr}
		dist.set(addr, "pickup", float64(i))
	}
	if err := svc.AddDrivers(ctx, drivers); err != nil {
		t.Fatal(err)
	}
	if err := svc.AddRides(ctx, []*Ride{testRide("R", "pickup", 2)}); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.RunMatching(ctx, MatchParams{PerRideCap: 2, Force: true}); err != nil {
		t.Fatal(err)
	}
	if got := suggestionsFor(t, svc, "R"); len(got) != 2 {
		t.Fatalf("per-ride cap of 2 violated: %v", got)
	}
}

// ---------------------------------------------------------------------------
// Scenario E: retention pruning and rejected-pair garbage collection
// ---------------------------------------------------------------------------

func TestRetention(t *testing.T) {
	svc, store, dist := newTestService(t)
	ctx := context.Background()
	dist.set("home", "old-pickup", 1)

	old := testRide("OLD", "old-pickup", 2)
	old.Start = time.Now().Add(-80 * time.Hour)
	old.End = time.Now().Add(-79 * time.Hour)
	if err := svc.AddDrivers(ctx, []*Driver{{ID: "D", Address: "home"}}); err != nil {
		t.Fatal(err)
	}
	if err := svc.AddRides(ctx, []*Ride{old}); err != nil {
		t.Fatal(err)
	}
	if got := len(svc.Rides(ctx)); got != 0 {
		t.Fatalf("stale ride must be pruned on commit, have %d rides", got)
	}

	// A rejection referencing the pruned ride is garbage-collected on its own
	// commit and never persists.
	if err := svc.Reject(ctx, "D", "OLD"); err != nil {
		t.Fatal(err)
	}
	if snap := store.latest(t); len(snap.Rejected) != 0 {
		t.Fatalf("rejected pairs for pruned rides must be purged, have %v", snap.Rejected)
	}
}

func TestRecentRideSurvivesRetention(t *testing.T) {
	svc, _, dist := newTestService(t)
	ctx := context.Background()
	dist.set("home", "pickup", 1)

	recent := testRide("R", "pickup", 2)
	recent.Start = time.Now().Add(-25 * time.Hour)
	recent.End = time.Now().Add(-24 * time.Hour)
	if err := svc.AddRides(ctx, []*Ride{recent}); err != nil {
		t.Fatal(err)
	}
	if got := len(svc.Rides(ctx)); got != 1 {
		t.Fatalf("ride inside the 2-day window must be retained, have %d", got)
	}
}

// ---------------------------------------------------------------------------
// Ordering, idempotence, widening termination
// ---------------------------------------------------------------------------

func TestCandidatesSortedByDistance(t *testing.T) {
	svc, _, dist := newTestService(t)
	ctx := context.Background()
	// Insert far driver first so the sort has work to do.
	dist.set("far", "pickup", 8)
	dist.set("mid", "pickup", 4)
	dist.set("near", "pickup", 1)

	drivers := []*Driver{
		{ID: "FAR", Address: "far"},
		{ID: "MID", Address: "mid"},
		{ID: "NEAR", Address: "near"},
	}
	if err := svc.AddDrivers(ctx, drivers); err != nil {
		t.Fatal(err)
	}
	if err := svc.AddRides(ctx, []*Ride{testRide("R", "pickup", 2)}); err != nil {
		t.Fatal(err)
	}

	got := suggestionsFor(t, svc, "R")
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %v", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].DistanceKm > got[i].DistanceKm {
			t.Fatalf("candidates not ascending by distance: %v", got)
		}
	}
	if got[0].DriverID != "NEAR" {
		t.Fatalf("nearest driver should rank first, got %v", got[0])
	}
}

func TestMatchingIdempotentWhenClean(t *testing.T) {
	svc, _, dist := newTestService(t)
	ctx := context.Background()
	dist.set("home", "pickup", 1)

	if err := svc.AddDrivers(ctx, []*Driver{{ID: "D", Address: "home"}}); err != nil {
		t.Fatal(err)
	}
	if err := svc.AddRides(ctx, []*Ride{testRide("R", "pickup", 2)}); err != nil {
		t.Fatal(err)
	}
	before := suggestionsFor(t, svc, "R")

	res, err := svc.RunMatching(ctx, MatchParams{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Ran {
		t.Fatal("clean, unforced matching call must be a no-op")
	}
	after := suggestionsFor(t, svc, "R")
	if len(before) != len(after) || before[0].DriverID != after[0].DriverID {
		t.Fatalf("no-op run changed candidates: %v -> %v", before, after)
	}

	forced, err := svc.RunMatching(ctx, MatchParams{Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if !forced.Ran {
		t.Fatal("forced run must execute")
	}
}

func TestWideningFindsDistantDriver(t *testing.T) {
	svc, _, dist := newTestService(t)
	ctx := context.Background()
	dist.set("home", "pickup", 50)

	if err := svc.AddDrivers(ctx, []*Driver{{ID: "D", Address: "home"}}); err != nil {
		t.Fatal(err)
	}
	if err := svc.AddRides(ctx, []*Ride{testRide("R", "pickup", 2)}); err != nil {
		t.Fatal(err)
	}

	res, err := svc.RunMatching(ctx, MatchParams{MaxDistanceKm: 10, Force: true})
	if err != nil {
		t.Fatal(err)
	}
	// 10 → 20 → 40 → 80; the 50km driver becomes eligible at 80.
	if res.Rounds != 4 {
		t.Fatalf("expected 4 rounds, got %d", res.Rounds)
	}
	if res.MatchedRides != 1 {
		t.Fatal("widening should eventually cover the distant driver")
	}
	if got := suggestionsFor(t, svc, "R"); len(got) != 1 || got[0].DriverID != "D" {
		t.Fatalf("expected the distant driver as candidate, got %v", got)
	}
}

func TestWideningTerminates(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	// Unknown addresses sit at 999km: never matchable.
	if err := svc.AddDrivers(ctx, []*Driver{{ID: "D", Address: "nowhere"}}); err != nil {
		t.Fatal(err)
	}
	if err := svc.AddRides(ctx, []*Ride{testRide("R", "pickup", 2)}); err != nil {
		t.Fatal(err)
	}

	res, err := svc.RunMatching(ctx, MatchParams{MaxDistanceKm: 1, Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Rounds > maxWideningRounds {
		t.Fatalf("widening exceeded its bound: %d rounds", res.Rounds)
	}
	if res.MatchedRides != 0 {
		t.Fatal("unreachable driver must not match")
	}
}

// ---------------------------------------------------------------------------
// State machine, assignments, bookkeeping
// ---------------------------------------------------------------------------

func TestAssignedRideExcludedFromMatching(t *testing.T) {
	svc, _, dist := newTestService(t)
	ctx := context.Background()
	dist.set("home", "pickup", 1)

	if err := svc.AddDrivers(ctx, []*Driver{{ID: "D", Address: "home"}}); err != nil {
		t.Fatal(err)
	}
	if err := svc.AddRides(ctx, []*Ride{testRide("R", "pickup", 2)}); err != nil {
		t.Fatal(err)
	}
	if err := svc.Confirm(ctx, "D", "R"); err != nil {
		t.Fatal(err)
	}

	for _, r := range svc.Rides(ctx) {
		if r.ID == "R" {
			if !r.Assigned() || r.AssignedDriverID != "D" {
				t.Fatalf("ride should be assigned to D, got %+v", r)
			}
			if len(r.PossibleDrivers) != 0 {
				t.Fatalf("assigned ride must carry no candidates, got %v", r.PossibleDrivers)
			}
		}
	}
}

func TestUndoAssignment(t *testing.T) {
	svc, _, dist := newTestService(t)
	ctx := context.Background()
	dist.set("home", "pickup", 1)

	if err := svc.AddDrivers(ctx, []*Driver{{ID: "D", Address: "home"}, {ID: "E", Address: "home"}}); err != nil {
		t.Fatal(err)
	}
	if err := svc.AddRides(ctx, []*Ride{testRide("R", "pickup", 2)}); err != nil {
		t.Fatal(err)
	}
	if err := svc.Confirm(ctx, "D", "R"); err != nil {
		t.Fatal(err)
	}

	if err := svc.Undo(ctx, "E", "R"); !errors.Is(err, ErrNotAssigned) {
		t.Fatalf("undo by the wrong driver must fail, got %v", err)
	}
	if err := svc.Undo(ctx, "D", "R"); err != nil {
		t.Fatalf("undo: %v", err)
	}

	for _, r := range svc.Rides(ctx) {
		if r.ID == "R" && r.Assigned() {
			t.Fatal("undo must clear the assignment")
		}
	}
	for _, d := range svc.Drivers(ctx) {
		if d.ID == "D" && len(d.UnavailableTimings) != 0 {
			t.Fatalf("undo must release the slot, got %v", d.UnavailableTimings)
		}
	}
}

func TestNotFoundErrors(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.Confirm(ctx, "D", "R"); !errors.Is(err, ErrDriverNotFound) {
		t.Fatalf("expected ErrDriverNotFound, got %v", err)
	}
	if err := svc.AddDrivers(ctx, []*Driver{{ID: "D", Address: "home"}}); err != nil {
		t.Fatal(err)
	}
	if err := svc.Confirm(ctx, "D", "R"); !errors.Is(err, ErrRideNotFound) {
		t.Fatalf("expected ErrRideNotFound, got %v", err)
	}
	if err := svc.DeleteRide(ctx, "R"); !errors.Is(err, ErrRideNotFound) {
		t.Fatalf("expected ErrRideNotFound on delete, got %v", err)
	}
	if err := svc.DeleteDriver(ctx, "X"); !errors.Is(err, ErrDriverNotFound) {
		t.Fatalf("expected ErrDriverNotFound on delete, got %v", err)
	}
}

func TestDedupeKeepsFirstSeen(t *testing.T) {
	svc, _, dist := newTestService(t)
	ctx := context.Background()
	dist.set("home", "first", 1)

	if err := svc.AddRides(ctx, []*Ride{testRide("R", "first", 2)}); err != nil {
		t.Fatal(err)
	}
	if err := svc.AddRides(ctx, []*Ride{testRide("R", "second", 2)}); err != nil {
		t.Fatal(err)
	}

	rides := svc.Rides(ctx)
	if len(rides) != 1 {
		t.Fatalf("duplicate ids must collapse, have %d rides", len(rides))
	}
	if rides[0].PickupAddress != "first" {
		t.Fatalf("first-seen record must win, got %q", rides[0].PickupAddress)
	}
}

func TestDeleteDriverUnassignsRides(t *testing.T) {
	svc, _, dist := newTestService(t)
	ctx := context.Background()
	dist.set("home", "pickup", 1)

	if err := svc.AddDrivers(ctx, []*Driver{{ID: "D", Address: "home"}}); err != nil {
		t.Fatal(err)
	}
	if err := svc.AddRides(ctx, []*Ride{testRide("R", "pickup", 2)}); err != nil {
		t.Fatal(err)
	}
	if err := svc.Confirm(ctx, "D", "R"); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteDriver(ctx, "D"); err != nil {
		t.Fatal(err)
	}

	for _, r := range svc.Rides(ctx) {
		if r.ID == "R" && r.Assigned() {
			t.Fatal("deleting a driver must unassign its rides")
		}
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := &mockSnapshotStore{}
	dist := &stubDistancer{km: map[string]float64{"home|pickup": 1}}
	ctx := context.Background()

	first, err := NewService(ctx, store, dist, logging.Nop(), config.MatchingConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if err := first.AddDrivers(ctx, []*Driver{{ID: "D", Address: "home"}}); err != nil {
		t.Fatal(err)
	}
	if err := first.AddRides(ctx, []*Ride{testRide("R", "pickup", 2)}); err != nil {
		t.Fatal(err)
	}
	if err := first.Reject(ctx, "D", "R"); err != nil {
		t.Fatal(err)
	}

	second, err := NewService(ctx, store, dist, logging.Nop(), config.MatchingConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(second.Rides(ctx)); got != 1 {
		t.Fatalf("reloaded engine should hold 1 ride, has %d", got)
	}
	if got := len(second.Drivers(ctx)); got != 1 {
		t.Fatalf("reloaded engine should hold 1 driver, has %d", got)
	}
	if _, ok := second.rejected[RejectedPair{DriverID: "D", RideID: "R"}]; !ok {
		t.Fatal("rejected pairs must survive the reload")
	}
}

func TestDistancerFailureSurfaces(t *testing.T) {
	store := &mockSnapshotStore{}
	wantErr := errors.New("maps api down")
	ctx := context.Background()

	svc, err := NewService(ctx, store, failingDistancer{err: wantErr}, logging.Nop(), config.MatchingConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.AddDrivers(ctx, []*Driver{{ID: "D", Address: "home"}}); err != nil {
		t.Fatal(err)
	}
	err = svc.AddRides(ctx, []*Ride{testRide("R", "pickup", 2)})
	if !errors.Is(err, wantErr) {
		t.Fatalf("collaborator fault must surface, got %v", err)
	}
}

func TestAuditOnlyWithActor(t *testing.T) {
	svc, store, dist := newTestService(t)
	dist.set("home", "pickup", 1)

	// No actor on the context: nothing audited.
	if err := svc.AddDrivers(context.Background(), []*Driver{{ID: "D", Address: "home"}}); err != nil {
		t.Fatal(err)
	}
	if len(store.audits) != 0 {
		t.Fatalf("direct invocations must not be audited: %v", store.audits)
	}

	ctx := WithActor(context.Background(), "10.0.0.7")
	if err := svc.AddRides(ctx, []*Ride{testRide("R", "pickup", 2)}); err != nil {
		t.Fatal(err)
	}
	if len(store.audits) == 0 {
		t.Fatal("expected audit entries for an identified requester")
	}
	found := false
	for _, entry := range store.audits {
		if entry == "10.0.0.7: Rides added manually." {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing add-rides audit entry: %v", store.audits)
	}
}
