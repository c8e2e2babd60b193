// README: Batch import of rides and drivers from CSV files.
package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"routescc/internal/modules/matching"
	"routescc/internal/types"
)

// Expected columns. A header row matching the first column name is skipped so
// both bare and headered exports load.
const (
	rideColumns   = 4 // id, pickup_address, start, end
	driverColumns = 2 // id, address
)

// ParseRides reads ride records from CSV: id, pickup_address, start, end with
// RFC 3339 timestamps.
func ParseRides(r io.Reader) ([]*matching.Ride, error) {
	rows, err := readRows(r, rideColumns, "id")
	if err != nil {
		return nil, err
	}
	rides := make([]*matching.Ride, 0, len(rows))
	for i, row := range rows {
		start, err := time.Parse(time.RFC3339, strings.TrimSpace(row[2]))
		if err != nil {
			return nil, fmt.Errorf("row %d: bad start time: %w", i+1, err)
		}
		end, err := time.Parse(time.RFC3339, strings.TrimSpace(row[3]))
		if err != nil {
			return nil, fmt.Errorf("row %d: bad end time: %w", i+1, err)
		}
		if !start.Before(end) {
			return nil, fmt.Errorf("row %d: ride ends before it starts", i+1)
		}
		rides = append(rides, &matching.Ride{
			ID:            types.ID(strings.TrimSpace(row[0])),
			PickupAddress: strings.TrimSpace(row[1]),
			Start:         start,
			End:           end,
		})
	}
	return rides, nil
}

// ParseDrivers reads driver records from CSV: id, address.
func ParseDrivers(r io.Reader) ([]*matching.Driver, error) {
	rows, err := readRows(r, driverColumns, "id")
	if err != nil {
		return nil, err
	}
	drivers := make([]*matching.Driver, 0, len(rows))
	for _, row := range rows {
		drivers = append(drivers, &matching.Driver{
			ID:      types.ID(strings.TrimSpace(row[0])),
			Address: strings.TrimSpace(row[1]),
		})
	}
	return drivers, nil
}

func readRows(r io.Reader, columns int, headerMarker string) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = columns
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) > 0 && strings.EqualFold(strings.TrimSpace(rows[0][0]), headerMarker) {
		rows = rows[1:]
	}
	for i, row := range rows {
		if strings.TrimSpace(row[0]) == "" {
			return nil, fmt.Errorf("row %d: empty id", i+1)
		}
	}
	return rows, nil
}
