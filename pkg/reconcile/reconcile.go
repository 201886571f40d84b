// Package reconcile turns a comprehensive snapshot of tracked aircraft into
// the view model shown by clients: the aircraft currently transmitting and a
// de-duplicated flight list ordered most recent first.
package reconcile

import (
	"cmp"
	"slices"

	"github.com/unklstewy/ffc-tracker/pkg/adsb"
)

// TaggedFlight is a flight record labelled with the aircraft it belongs to.
// ICAO24 and Registration shadow the fields of the embedded record: they
// always name the owning snapshot entry.
type TaggedFlight struct {
	adsb.FlightRecord
	ICAO24       string `json:"icao24"`
	Registration string `json:"registration"`
}

// View is the reconciled, display-ready form of a snapshot.
type View struct {
	ActiveAircraft []adsb.AircraftState `json:"active_aircraft"`
	Flights        []TaggedFlight       `json:"flights"`

	// ActiveCount is the number of aircraft with a current state
	ActiveCount int `json:"active_count"`

	// TotalTracked is the number of aircraft in the snapshot
	TotalTracked int `json:"total_tracked"`

	// Flights24h counts history records before de-duplication
	Flights24h int `json:"flights_24h"`
}

// flightKey identifies a flight across collection paths.
type flightKey struct {
	icao24      string
	callsign    string
	hasCallsign bool
	firstSeen   int64
	hasFirst    bool
	lastSeen    int64
	hasLast     bool
}

func keyOf(f TaggedFlight) flightKey {
	k := flightKey{icao24: f.ICAO24}
	if f.Callsign != nil {
		k.callsign, k.hasCallsign = *f.Callsign, true
	}
	if f.FirstSeen != nil {
		k.firstSeen, k.hasFirst = *f.FirstSeen, true
	}
	if f.LastSeen != nil {
		k.lastSeen, k.hasLast = *f.LastSeen, true
	}
	return k
}

// Reconcile builds the view for a snapshot. It never fails and does not
// modify the snapshot; concurrent calls are independent.
//
// Flights are tagged with their entry's aircraft id and registration (the
// id when no registration is known), de-duplicated on (aircraft, callsign,
// first seen, last seen) keeping the first occurrence, then stably sorted
// by first seen descending with a missing first seen treated as 0.
func Reconcile(s *Snapshot) View {
	v := View{
		ActiveAircraft: []adsb.AircraftState{},
		Flights:        []TaggedFlight{},
	}

	var all []TaggedFlight
	s.Range(func(id string, e Entry) bool {
		if e.Current != nil {
			v.ActiveAircraft = append(v.ActiveAircraft, *e.Current)
		}

		registration := e.Registration
		if registration == "" {
			registration = id
		}
		for _, f := range e.History {
			all = append(all, TaggedFlight{FlightRecord: f, ICAO24: id, Registration: registration})
		}
		return true
	})

	seen := make(map[flightKey]struct{}, len(all))
	for _, f := range all {
		k := keyOf(f)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		v.Flights = append(v.Flights, f)
	}

	slices.SortStableFunc(v.Flights, func(a, b TaggedFlight) int {
		return cmp.Compare(firstSeen(b), firstSeen(a))
	})

	v.ActiveCount = len(v.ActiveAircraft)
	v.TotalTracked = s.Len()
	v.Flights24h = len(all)

	return v
}

func firstSeen(f TaggedFlight) int64 {
	if f.FirstSeen == nil {
		return 0
	}
	return *f.FirstSeen
}
