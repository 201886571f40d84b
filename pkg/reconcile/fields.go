package reconcile

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/unklstewy/ffc-tracker/pkg/adsb"
)

// Entries come from other processes and older backends, so leaf fields are
// read leniently: a value of the wrong type is treated as absent instead of
// failing the snapshot. Numbers may arrive as floats or numeric strings.

type fields map[string]json.RawMessage

// objectFields returns the members of raw, or false when raw is not an object.
func objectFields(raw json.RawMessage) (fields, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var f fields
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return nil, false
	}
	return f, true
}

func decodeEntry(f fields) Entry {
	return Entry{
		Current:      decodeState(f["current_state"]),
		History:      decodeHistory(f["flight_history"]),
		Registration: f.str("registration"),
	}
}

// decodeState returns nil for anything but an object, like a null state.
func decodeState(raw json.RawMessage) *adsb.AircraftState {
	f, ok := objectFields(raw)
	if !ok {
		return nil
	}
	return &adsb.AircraftState{
		ICAO24:       f.str("icao24"),
		Callsign:     f.optStr("callsign"),
		Latitude:     f.optFloat("latitude"),
		Longitude:    f.optFloat("longitude"),
		Altitude:     f.optFloat("altitude"),
		Velocity:     f.optFloat("velocity"),
		Heading:      f.optFloat("heading"),
		VerticalRate: f.optFloat("vertical_rate"),
		OnGround:     f.boolean("on_ground"),
		LastContact:  f.optEpoch("last_contact"),
	}
}

// decodeHistory skips records that are not objects. A missing or
// non-array history is empty.
func decodeHistory(raw json.RawMessage) []adsb.FlightRecord {
	history := []adsb.FlightRecord{}
	var items []json.RawMessage
	if json.Unmarshal(raw, &items) != nil {
		return history
	}
	for _, item := range items {
		f, ok := objectFields(item)
		if !ok {
			continue
		}
		history = append(history, adsb.FlightRecord{
			ICAO24:           f.str("icao24"),
			Callsign:         f.optStr("callsign"),
			DepartureAirport: f.optStr("estDepartureAirport"),
			ArrivalAirport:   f.optStr("estArrivalAirport"),
			FirstSeen:        f.optEpoch("firstSeen"),
			LastSeen:         f.optEpoch("lastSeen"),
			Registration:     f.optStr("registration"),
		})
	}
	return history
}

// present reports whether name is set to something other than null.
func (f fields) present(name string) bool {
	trimmed := bytes.TrimSpace(f[name])
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func (f fields) optStr(name string) *string {
	if !f.present(name) {
		return nil
	}
	var s string
	if json.Unmarshal(f[name], &s) != nil {
		return nil
	}
	return &s
}

func (f fields) str(name string) string {
	if s := f.optStr(name); s != nil {
		return *s
	}
	return ""
}

func (f fields) boolean(name string) bool {
	var b bool
	_ = json.Unmarshal(f[name], &b)
	return b
}

func (f fields) optFloat(name string) *float64 {
	if !f.present(name) {
		return nil
	}
	raw := f[name]
	var v float64
	if json.Unmarshal(raw, &v) != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return nil
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
			return nil
		}
		v = parsed
	}
	return &v
}

// optEpoch reads epoch seconds, truncating fractional values.
func (f fields) optEpoch(name string) *int64 {
	v := f.optFloat(name)
	if v == nil || math.Abs(*v) > math.MaxInt64/2 {
		return nil
	}
	n := int64(*v)
	return &n
}
