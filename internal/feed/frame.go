package feed

import (
	"encoding/json"
	"fmt"
)

// Frame is the envelope of one upstream websocket message. Only the envelope
// is decoded here; Data stays raw until the normalizer sees it.
type Frame struct {
	Type   string          `json:"type"`
	Source string          `json:"source"`
	Data   json.RawMessage `json:"Data"`
}

// InitialItem is one entry of an initial_all snapshot frame.
type InitialItem struct {
	Source string                 `json:"source"`
	Data   map[string]interface{} `json:"Data"`
}

func ParseFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("malformed frame: %w", err)
	}
	return f, nil
}

func (f Frame) InitialItems() ([]InitialItem, error) {
	var items []InitialItem
	if err := json.Unmarshal(f.Data, &items); err != nil {
		return nil, fmt.Errorf("malformed initial_all payload: %w", err)
	}
	return items, nil
}
