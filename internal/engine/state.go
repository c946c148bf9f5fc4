package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// State is the persisted blob: every record plus the settings.
type State struct {
	Records  Records  `json:"records"`
	Settings Settings `json:"settings"`
}

// EncodeState serializes a state for the persistence gateway.
func EncodeState(st State) ([]byte, error) {
	if st.Records == nil {
		st.Records = Records{}
	}
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return data, nil
}

// ErrInvalidState reports input that is not a state blob: the top level must
// be a JSON object holding a "records" object.
var ErrInvalidState = errors.New("invalid state")

// DecodeState parses a persisted blob. It never fails: data that is not the
// expected shape yields an empty record set, missing or malformed settings
// fall back to the given defaults, and individual records that cannot be read
// or score below 1 are dropped.
func DecodeState(data []byte, fallback Settings) State {
	st, err := decodeState(data, fallback)
	if err != nil {
		return State{Records: Records{}, Settings: st.Settings}
	}
	return st
}

// ParseState is the strict form of DecodeState used for imports. Input that
// is not a state blob is rejected with ErrInvalidState; within a valid blob,
// unreadable records and settings are still dropped.
func ParseState(data []byte, fallback Settings) (State, error) {
	st, err := decodeState(data, fallback)
	if err != nil {
		return State{}, err
	}
	return st, nil
}

// decodeState returns whatever it could read along with the first
// structural problem found.
func decodeState(data []byte, fallback Settings) (State, error) {
	st := State{Records: Records{}, Settings: fallback}
	if len(bytes.TrimSpace(data)) == 0 {
		return st, fmt.Errorf("%w: empty input", ErrInvalidState)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil || top == nil {
		return st, fmt.Errorf("%w: not a JSON object", ErrInvalidState)
	}

	if raw, ok := top["settings"]; ok {
		s := fallback
		if err := json.Unmarshal(raw, &s); err == nil {
			st.Settings = s
		}
	}

	raw, ok := top["records"]
	if !ok {
		return st, fmt.Errorf("%w: no records", ErrInvalidState)
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil || entries == nil {
		return st, fmt.Errorf("%w: records is not an object", ErrInvalidState)
	}
	for key, v := range entries {
		var r Record
		if err := json.Unmarshal(v, &r); err != nil {
			continue
		}
		// a record below the prune threshold would have been pruned
		if key == "" || r.Score < pruneThreshold {
			continue
		}
		st.Records[key] = &r
	}
	return st, nil
}
