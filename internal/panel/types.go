package panel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Snapshot is one VPS's bandwidth state as reported by the panel at
// fetch time. Bandwidth 0 means unlimited; negative values are the
// provider's "negative allowance" plans. PlanID is opaque and must be
// sent back verbatim on update to avoid an unintended tier change.
type Snapshot struct {
	ID            string
	Bandwidth     int64
	UsedBandwidth int64
	PlanID        string
}

// flexInt decodes a JSON number or numeric string into an int64.
// The panel is inconsistent about quoting numbers, and occasionally
// reports usage as a decimal; fractional values round to nearest.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" || string(data) == `""` {
		*f = 0
		return nil
	}
	s := string(data)
	if s[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt(v)
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse numeric field %q: %w", s, err)
	}
	*f = flexInt(int64(math.Round(v)))
	return nil
}

// flexString decodes a JSON string or number, preserving integer
// values verbatim. Used for plid and vpsid, which the panel reports
// as either type depending on version.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexBool decodes the panel's various success flags: true/false,
// 0/1, or the same as strings.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "true", "1", `"1"`, `"true"`:
		*f = true
	default:
		*f = false
	}
	return nil
}

// vpsEntry is the wire shape of one roster record. Missing bandwidth
// decodes to 0 (unlimited) at this boundary, not in business logic.
type vpsEntry struct {
	VPSID         flexString `json:"vpsid"`
	Bandwidth     flexInt    `json:"bandwidth"`
	UsedBandwidth flexInt    `json:"used_bandwidth"`
	PlanID        flexString `json:"plid"`
}

// rosterField decodes the top-level "vs" field, which is a map keyed
// by vpsid on most panel versions but degrades to a list (or an empty
// array) on others. Entries without a usable id are dropped.
type rosterField struct {
	items map[string]Snapshot
}

func (r *rosterField) UnmarshalJSON(data []byte) error {
	r.items = make(map[string]Snapshot)

	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	switch data[0] {
	case '{':
		var m map[string]vpsEntry
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		for key, e := range m {
			id := string(e.VPSID)
			if id == "" {
				id = key
			}
			r.items[id] = snapshotFromEntry(id, e)
		}
	case '[':
		var l []vpsEntry
		if err := json.Unmarshal(data, &l); err != nil {
			return err
		}
		for _, e := range l {
			id := string(e.VPSID)
			if id == "" {
				continue
			}
			r.items[id] = snapshotFromEntry(id, e)
		}
	default:
		return fmt.Errorf("unexpected roster shape: %s", excerpt(data))
	}

	return nil
}

func snapshotFromEntry(id string, e vpsEntry) Snapshot {
	return Snapshot{
		ID:            id,
		Bandwidth:     int64(e.Bandwidth),
		UsedBandwidth: int64(e.UsedBandwidth),
		PlanID:        string(e.PlanID),
	}
}

// rosterResponse is the top-level roster payload. A nil VS pointer
// means the "vs" field was absent entirely, which is a schema error
// distinct from an empty roster.
type rosterResponse struct {
	VS *rosterField `json:"vs"`
}

// resetResponse is the usage-reset payload: {"done": 1}.
type resetResponse struct {
	Done *flexBool `json:"done"`
}

// updateResponse is the quota-update payload: {"done": {"done": true}}.
// The outer field is kept raw because failed updates replace the
// nested object with a bare falsy value.
type updateResponse struct {
	Done json.RawMessage `json:"done"`
}

// completed reports whether the nested success flag is present and true.
// The second return distinguishes "flag missing" (schema error) from
// "flag false" (semantic failure).
func (u updateResponse) completed() (ok, present bool) {
	if len(u.Done) == 0 {
		return false, false
	}
	trimmed := bytes.TrimSpace(u.Done)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		// Bare falsy value where the object should be: the panel
		// reported the edit did not go through.
		return false, true
	}
	var inner struct {
		Done *flexBool `json:"done"`
	}
	if err := json.Unmarshal(trimmed, &inner); err != nil || inner.Done == nil {
		return false, false
	}
	return bool(*inner.Done), true
}
