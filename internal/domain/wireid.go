package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// WireID is an identifier that may be encoded as a JSON number or string. Decimal ids are
// written back as numbers.
type WireID string

// UnmarshalJSON accepts 12, "12" and null.
func (id *WireID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = WireID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("domain: id %s is neither string nor number", data)
	}
	*id = WireID(n.String())
	return nil
}

// MarshalJSON writes decimal ids as numbers and everything else as strings.
func (id WireID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id WireID) String() string { return string(id) }
