package inference

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrParse indicates the engine output held no usable JSON object.
var ErrParse = errors.New("inference: no well-formed JSON object in response")

// ExtractObject decodes the first well-formed JSON object embedded in raw.
func ExtractObject(raw string, v any) error {
	text := stripCodeFence(raw)
	if text == "" {
		return fmt.Errorf("%w: empty response", ErrParse)
	}
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		var obj json.RawMessage
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		if err := dec.Decode(&obj); err != nil {
			continue
		}
		if err := json.Unmarshal(obj, v); err != nil {
			continue
		}
		return nil
	}
	return ErrParse
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// Level is a 0-10 integer that tolerates "8", 8.0 and null in engine output.
type Level int

func (l *Level) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*l = 0
		return nil
	}
	raw := strings.Trim(string(data), `"`)
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		*l = 0
		return nil
	}
	*l = Level(ClampLevel(int(math.Round(f))))
	return nil
}

// Flag is a bool that tolerates "true"/"yes" strings in engine output.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	raw := strings.ToLower(strings.Trim(strings.TrimSpace(string(data)), `"`))
	switch raw {
	case "true", "yes", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}

// Strings is a string list that also accepts a single string.
type Strings []string

func (s *Strings) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil && strings.TrimSpace(single) != "" {
		*s = []string{single}
		return nil
	}
	*s = nil
	return nil
}

// ClampLevel bounds a level to [0,10].
func ClampLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level > 10 {
		return 10
	}
	return level
}
