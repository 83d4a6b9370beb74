package modbus

import (
	"bytes"
	"encoding/json"
	"time"
)

// RegisterReading is one decoded value within a Snapshot.
type RegisterReading struct {
	ID    string  `json:"-"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Snapshot is the result of one poll cycle for one controller.
//
// Registers keeps poll order. A snapshot with no registers means the
// controller could not be reached during that cycle.
type Snapshot struct {
	ControllerID string
	Sequence     uint64
	Timestamp    time.Time
	Registers    []RegisterReading
}

// Reading returns the reading for a register ID.
func (s Snapshot) Reading(registerID string) (RegisterReading, bool) {
	for _, r := range s.Registers {
		if r.ID == registerID {
			return r, true
		}
	}
	return RegisterReading{}, false
}

// Empty reports whether the snapshot carries no readings.
func (s Snapshot) Empty() bool {
	return len(s.Registers) == 0
}

// MarshalJSON renders the snapshot with registers as an object keyed by
// register ID, preserving poll order:
//
//	{"controllerId":"plc-1","sequence":4,"timestamp":"...","registers":{"r1":{"name":"Temp","value":21.5,"unit":"°C"}}}
func (s Snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	header, err := json.Marshal(struct {
		ControllerID string    `json:"controllerId"`
		Sequence     uint64    `json:"sequence"`
		Timestamp    time.Time `json:"timestamp"`
	}{s.ControllerID, s.Sequence, s.Timestamp.UTC()})
	if err != nil {
		return nil, err
	}

	// Reopen the header object and append the ordered register map.
	buf.Write(header[:len(header)-1])
	buf.WriteString(`,"registers":{`)
	for i, r := range s.Registers {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(r.ID)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r)
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

// UnmarshalJSON parses the form produced by MarshalJSON. Register order
// follows the order keys appear in the document.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw struct {
		ControllerID string          `json:"controllerId"`
		Sequence     uint64          `json:"sequence"`
		Timestamp    time.Time       `json:"timestamp"`
		Registers    json.RawMessage `json:"registers"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.ControllerID = raw.ControllerID
	s.Sequence = raw.Sequence
	s.Timestamp = raw.Timestamp
	s.Registers = nil

	if len(raw.Registers) == 0 || string(raw.Registers) == "null" {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw.Registers))
	if _, err := dec.Token(); err != nil { // opening brace
		return err
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		id, _ := tok.(string)
		var r RegisterReading
		if err := dec.Decode(&r); err != nil {
			return err
		}
		r.ID = id
		s.Registers = append(s.Registers, r)
	}
	return nil
}
