package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atinyakov/heartline/internal/models"
)

// SchemaVersion is the version written by Encode.
const SchemaVersion = 1

// Snapshot is the persisted subset of the session state.
type Snapshot struct {
	User            *models.User
	IsAuthenticated bool
	LastChecked     time.Time
}

// snapshotV1 is the on-disk shape of schema version 1.
type snapshotV1 struct {
	User            *models.User `json:"user"`
	IsAuthenticated bool         `json:"isAuthenticated"`
	// LastChecked is unix milliseconds; 0 means never.
	LastChecked int64 `json:"lastChecked,omitempty"`
}

type envelope struct {
	Version *int            `json:"version"`
	State   json.RawMessage `json:"state"`
}

// migrations upgrade the state payload of version k to version k+1.
var migrations = map[int]func(json.RawMessage) (json.RawMessage, error){
	0: migrateV0,
}

// Encode serializes s with the current schema version.
func Encode(s Snapshot) ([]byte, error) {
	st := snapshotV1{User: s.User, IsAuthenticated: s.IsAuthenticated && s.User != nil}
	if !s.LastChecked.IsZero() {
		st.LastChecked = s.LastChecked.UnixMilli()
	}
	state, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	v := SchemaVersion
	return json.Marshal(envelope{Version: &v, State: state})
}

// Decode parses a persisted snapshot. It never fails: missing, corrupt,
// unknown-version or inconsistent data yields the empty Snapshot, and legacy
// versions are migrated forward.
func Decode(data []byte) Snapshot {
	s, err := decode(data)
	if err != nil {
		return Snapshot{}
	}
	return s
}

func decode(data []byte) (Snapshot, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		// Covers "", "null", "undefined" and other non-object garbage.
		return Snapshot{}, fmt.Errorf("not a JSON object")
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Snapshot{}, err
	}

	version, state := 0, env.State
	switch {
	case env.Version != nil:
		version = *env.Version
	case env.State == nil:
		// Pre-versioning: the state itself was stored at the top level.
		state = json.RawMessage(data)
	}
	if version > SchemaVersion || version < 0 {
		return Snapshot{}, fmt.Errorf("unsupported snapshot version %d", version)
	}
	if len(state) == 0 {
		return Snapshot{}, fmt.Errorf("missing state")
	}

	for v := version; v < SchemaVersion; v++ {
		migrate, ok := migrations[v]
		if !ok {
			return Snapshot{}, fmt.Errorf("no migration from version %d", v)
		}
		var err error
		if state, err = migrate(state); err != nil {
			return Snapshot{}, fmt.Errorf("migrate from version %d: %w", v, err)
		}
	}

	var st snapshotV1
	if err := json.Unmarshal(state, &st); err != nil {
		return Snapshot{}, err
	}
	s := Snapshot{User: st.User, IsAuthenticated: st.IsAuthenticated}
	if st.LastChecked > 0 {
		s.LastChecked = time.UnixMilli(st.LastChecked)
	}
	if s.IsAuthenticated && s.User == nil {
		s.IsAuthenticated = false
	}
	if !s.IsAuthenticated {
		s.User = nil
	}
	return s, nil
}

// migrateV0 converts the version 0 state, which stored lastChecked as an
// RFC 3339 string and also persisted transient flags, to version 1.
func migrateV0(state json.RawMessage) (json.RawMessage, error) {
	var old struct {
		User            *models.User `json:"user"`
		IsAuthenticated bool         `json:"isAuthenticated"`
		LastChecked     any          `json:"lastChecked"`
	}
	if err := json.Unmarshal(state, &old); err != nil {
		return nil, err
	}

	st := snapshotV1{User: old.User, IsAuthenticated: old.IsAuthenticated}
	switch lc := old.LastChecked.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339, lc); err == nil {
			st.LastChecked = t.UnixMilli()
		}
	case float64:
		st.LastChecked = int64(lc)
	}
	return json.Marshal(st)
}
