// README: Builds the capacitated flow network linking drivers to unmatched rides.
package matching

import (
	"context"

	"routescc/internal/flow"
)

// unitEdge remembers one driver→ride edge that was added with capacity 1,
// along with the distance that justified it.
type unitEdge struct {
	driver     int
	ride       int
	distanceKm float64
}

// network is one built flow instance: the graph plus the unit edges the
// interpreter has to read back.
type network struct {
	graph *flow.Graph
	edges []unitEdge
}

// buildNetwork translates the current pool into a flow network:
//
//	source → driver(i)  capacity = per-driver cap (fairness bound)
//	driver(i) → ride(j) capacity = 1, only for suitable pairs
//	ride(j) → sink      capacity = per-ride cap
//
// A pair is suitable when the driver-to-pickup distance is strictly under the
// threshold and the pair has not been rejected. Distance lookups go through
// the collaborator; its failures abort the build.
func (s *Service) buildNetwork(ctx context.Context, unmatched []*Ride, thresholdKm float64, p MatchParams) (*network, error) {
	n := &network{graph: flow.NewGraph()}

	for i := range s.drivers {
		if err := n.graph.AddEdge(flow.Source(), flow.DriverNode(i), p.PerDriverCap); err != nil {
			return nil, err
		}
	}
	for j := range unmatched {
		if err := n.graph.AddEdge(flow.RideNode(j), flow.Sink(), p.PerRideCap); err != nil {
			return nil, err
		}
	}

	for i, driver := range s.drivers {
		for j, ride := range unmatched {
			if _, rejected := s.rejected[RejectedPair{DriverID: driver.ID, RideID: ride.ID}]; rejected {
				continue
			}
			km, err := s.distance.DistanceKm(ctx, driver.Address, ride.PickupAddress)
			if err != nil {
				return nil, err
			}
			if km >= thresholdKm {
				continue
			}
			if err := n.graph.AddEdge(flow.DriverNode(i), flow.RideNode(j), 1); err != nil {
				return nil, err
			}
			n.edges = append(n.edges, unitEdge{driver: i, ride: j, distanceKm: km})
		}
	}
	return n, nil
}

// solve runs max flow. A network with no drivers or no unmatched rides has
// nothing to push and is left untouched.
func (n *network) solve() error {
	if len(n.edges) == 0 {
		return nil
	}
	_, err := n.graph.MaxFlow(flow.Source(), flow.Sink())
	return err
}

// saturated reports whether a unit edge carried its full flow.
func (n *network) saturated(e unitEdge) bool {
	return n.graph.Residual(flow.DriverNode(e.driver), flow.RideNode(e.ride)) == 0
}
