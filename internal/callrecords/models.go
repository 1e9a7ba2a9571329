package callrecords

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound       = errors.New("callrecords: not found")
	ErrInvalidRequest = errors.New("callrecords: invalid request")
)

// JSONB maps a Postgres jsonb column. A nil map round-trips as SQL NULL,
// which is how "no output yet" is represented.
type JSONB map[string]any

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value any) error {
	if value == nil {
		*j = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return json.Unmarshal(raw, j)
}

// CallRecord is one row per call session. InputData is immutable after
// insert; OutputData stays NULL until an external result writer supplies it.
//
// The call_id doubles as the media-room name. A record with no matching live
// room (or, if the best-effort insert failed, a room with no record) is a
// normal transient state, not corruption.
type CallRecord struct {
	CallID     string    `json:"call_id" db:"call_id"`
	InputData  JSONB     `json:"input_data" db:"input_data"`
	OutputData JSONB     `json:"output_data" db:"output_data"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Status is derived on read, never stored: pending until output arrives, then
// the writer-supplied outcome, else completed.
func (r CallRecord) Status() string {
	if r.OutputData == nil {
		return "pending"
	}
	if v, ok := r.OutputData["outcome"].(string); ok && v != "" {
		return v
	}
	return "completed"
}

// HasOutput reports whether the session has concluded with any output at all.
func (r CallRecord) HasOutput() bool {
	return r.OutputData != nil
}
