package websocket

import "encoding/json"

// JSON decodes frames into map[string]any and encodes messages with
// encoding/json. Embed it to get Parse and Cast; Matches accepts nothing.
type JSON struct{}

func (JSON) Parse(text string) (any, error) {
	var v map[string]any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (JSON) Cast(msg any) (string, error) {
	if s, ok := msg.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(msg)
	return string(b), err
}

func (JSON) Matches(string, any) bool { return false }
