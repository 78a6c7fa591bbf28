package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// TabHandle is the transient handle of a browser tab (a CDP target ID).
// Panels built on the extension API send numeric tab IDs, so both JSON
// numbers and strings are accepted.
type TabHandle string

func (h *TabHandle) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*h = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*h = TabHandle(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("tab handle: %w", err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("tab handle: %w", err)
	}
	*h = TabHandle(n.String())
	return nil
}

func (h TabHandle) String() string { return string(h) }
