package reconcile

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/unklstewy/ffc-tracker/pkg/adsb"
)

// Entry is one aircraft in a snapshot: its live state, if it is
// transmitting, and its flights inside the lookback window.
type Entry struct {
	Current      *adsb.AircraftState `json:"current_state"`
	History      []adsb.FlightRecord `json:"flight_history"`
	Registration string              `json:"registration,omitempty"`
}

// Snapshot is the comprehensive payload for a set of aircraft, keyed by
// aircraft id (the ICAO24 address). Keys keep the order in which they were
// added or, for decoded snapshots, the order they appear in the JSON.
//
// A Snapshot is not safe for concurrent mutation; once built it is treated
// as immutable and may be read from any number of goroutines.
type Snapshot struct {
	// Timestamp is when the snapshot was assembled (epoch seconds, 0 if unknown)
	Timestamp int64

	keys    []string
	entries map[string]Entry
}

// NewSnapshot returns an empty snapshot stamped with the given time.
func NewSnapshot(at time.Time) *Snapshot {
	s := &Snapshot{entries: make(map[string]Entry)}
	if !at.IsZero() {
		s.Timestamp = at.Unix()
	}
	return s
}

// Set adds or replaces the entry for id. A replaced entry keeps its position.
func (s *Snapshot) Set(id string, e Entry) {
	if s.entries == nil {
		s.entries = make(map[string]Entry)
	}
	if e.History == nil {
		e.History = []adsb.FlightRecord{}
	}
	if _, ok := s.entries[id]; !ok {
		s.keys = append(s.keys, id)
	}
	s.entries[id] = e
}

// Get returns the entry for id.
func (s *Snapshot) Get(id string) (Entry, bool) {
	e, ok := s.entries[id]
	return e, ok
}

// Len is the number of aircraft in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Keys returns the aircraft ids in snapshot order.
func (s *Snapshot) Keys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Range calls fn for each entry in snapshot order until fn returns false.
func (s *Snapshot) Range(fn func(id string, e Entry) bool) {
	if s == nil {
		return
	}
	for _, id := range s.keys {
		if !fn(id, s.entries[id]) {
			return
		}
	}
}

// States returns the present current states in snapshot order.
func (s *Snapshot) States() []adsb.AircraftState {
	states := []adsb.AircraftState{}
	s.Range(func(_ string, e Entry) bool {
		if e.Current != nil {
			states = append(states, *e.Current)
		}
		return true
	})
	return states
}

// MarshalJSON encodes the snapshot as {"timestamp": ..., "data": {...}}
// with data keys in snapshot order.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"timestamp":`)
	ts, _ := json.Marshal(s.Timestamp)
	buf.Write(ts)
	buf.WriteString(`,"data":{`)
	for i, id := range s.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(s.entries[id])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a comprehensive payload, see DecodeSnapshot.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	decoded, err := DecodeSnapshot(data)
	if err != nil {
		return err
	}
	*s = *decoded
	return nil
}

// DecodeSnapshot parses a comprehensive payload of the form
//
//	{"timestamp": 1718000000, "data": {"<icao24>": {"current_state": {...}, "flight_history": [...], "registration": "N31401"}}}
//
// A null current_state means the aircraft is not transmitting; a null or
// missing flight_history is an empty history. Unknown top-level keys are
// ignored, and fields of the wrong type inside an entry read as absent.
// Payloads that are not objects, that lack an object "data", or whose
// entries are not objects fail with *InvalidSnapshotError.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := expectDelim(dec, '{', ""); err != nil {
		return nil, err
	}

	snap := NewSnapshot(time.Time{})
	sawData := false

	for dec.More() {
		key, err := readKey(dec, "")
		if err != nil {
			return nil, err
		}

		switch key {
		case "data":
			if err := decodeEntries(dec, snap); err != nil {
				return nil, err
			}
			sawData = true
		case "timestamp":
			var ts json.Number
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return nil, malformed("timestamp", err)
			}
			// non-numeric timestamps are ignored
			if json.Unmarshal(raw, &ts) == nil {
				if n, err := ts.Int64(); err == nil {
					snap.Timestamp = n
				} else if f, err := ts.Float64(); err == nil {
					snap.Timestamp = int64(f)
				}
			}
		default:
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, malformed(key, err)
			}
		}
	}

	if err := expectDelim(dec, '}', ""); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &InvalidSnapshotError{Reason: "trailing data after payload"}
	}
	if !sawData {
		return nil, &InvalidSnapshotError{Path: "data", Reason: "missing"}
	}

	return snap, nil
}

func decodeEntries(dec *json.Decoder, snap *Snapshot) error {
	if err := expectDelim(dec, '{', "data"); err != nil {
		return err
	}

	for dec.More() {
		id, err := readKey(dec, "data")
		if err != nil {
			return err
		}
		path := "data." + id

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return malformed(path, err)
		}
		f, ok := objectFields(raw)
		if !ok {
			return &InvalidSnapshotError{Path: path, Reason: "entry is not an object"}
		}
		snap.Set(id, decodeEntry(f))
	}

	return expectDelim(dec, '}', "data")
}

func expectDelim(dec *json.Decoder, want json.Delim, path string) error {
	tok, err := dec.Token()
	if err != nil {
		return malformed(path, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		reason := "not an object"
		if want == '}' {
			reason = "unterminated object"
		}
		return &InvalidSnapshotError{Path: path, Reason: reason}
	}
	return nil
}

func readKey(dec *json.Decoder, path string) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", malformed(path, err)
	}
	key, ok := tok.(string)
	if !ok {
		return "", &InvalidSnapshotError{Path: path, Reason: "expected object key"}
	}
	return key, nil
}

func malformed(path string, err error) error {
	return &InvalidSnapshotError{Path: path, Reason: "malformed JSON", Err: err}
}
