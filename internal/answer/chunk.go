package answer

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Chunk is one piece of evidence. In JSON it is either a string or an
// object with a "text" field.
type Chunk struct {
	Text string
}

// TextChunks converts plain strings to chunks.
func TextChunks(texts []string) []Chunk {
	out := make([]Chunk, len(texts))
	for i, t := range texts {
		out[i] = Chunk{Text: t}
	}
	return out
}

// UnmarshalJSON accepts "text", {"text": "..."} and null. An object
// without a string text field, and null, decode as a blank chunk.
// Numbers and booleans keep their literal form.
func (c *Chunk) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty chunk")
	}

	switch data[0] {
	case '"':
		return json.Unmarshal(data, &c.Text)
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		c.Text = ""
		if raw, ok := obj["text"]; ok {
			var s string
			if json.Unmarshal(raw, &s) == nil {
				c.Text = s
			}
		}
		return nil
	case '[':
		return fmt.Errorf("chunk must be a string or an object with a text field")
	case 'n':
		c.Text = ""
		return nil
	default:
		c.Text = string(data)
		return nil
	}
}

// MarshalJSON encodes the chunk as a plain string.
func (c Chunk) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Text)
}
