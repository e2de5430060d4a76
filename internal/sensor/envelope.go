package sensor

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Envelope is the JSON object every adapter writes to stdout.
type Envelope struct {
	Success bool           `json:"success"`
	Items   []ItemEnvelope `json:"items"`
	Count   int            `json:"count"`
	Error   string         `json:"error"`
}

// ItemEnvelope is one item as produced by an adapter.
type ItemEnvelope struct {
	Source      string         `json:"source"`
	SourceID    string         `json:"source_id"`
	Title       string         `json:"title"`
	URL         string         `json:"url"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata"`
	PublishedAt string         `json:"published_at"`
}

// UnmarshalJSON accepts numeric source ids and null fields, which several
// upstream APIs emit.
func (it *ItemEnvelope) UnmarshalJSON(data []byte) error {
	var raw struct {
		Source      *string         `json:"source"`
		SourceID    json.RawMessage `json:"source_id"`
		Title       *string         `json:"title"`
		URL         *string         `json:"url"`
		Content     *string         `json:"content"`
		Metadata    map[string]any  `json:"metadata"`
		PublishedAt *string         `json:"published_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := flexString(raw.SourceID)
	if err != nil {
		return err
	}
	*it = ItemEnvelope{
		Source:      deref(raw.Source),
		SourceID:    id,
		Title:       deref(raw.Title),
		URL:         deref(raw.URL),
		Content:     deref(raw.Content),
		Metadata:    raw.Metadata,
		PublishedAt: deref(raw.PublishedAt),
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func flexString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	return n.String(), nil
}

// ExtractJSON finds the envelope in adapter stdout. The whole output is
// tried first, then each line from the end until one parses as a non-empty
// JSON object. It returns false when nothing qualifies.
func ExtractJSON(out []byte) (map[string]json.RawMessage, bool) {
	text := bytes.TrimSpace(out)
	if len(text) == 0 {
		return nil, false
	}
	if obj, ok := parseObject(text); ok {
		return obj, true
	}
	lines := bytes.Split(text, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 {
			continue
		}
		if obj, ok := parseObject(line); ok {
			return obj, true
		}
	}
	return nil, false
}

func parseObject(b []byte) (map[string]json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil || len(obj) == 0 {
		return nil, false
	}
	return obj, true
}

// DecodeEnvelope converts an extracted object into an Envelope. hasSuccess
// reports whether the object carried an explicit success field. Item
// records that fail to decode are skipped.
func DecodeEnvelope(obj map[string]json.RawMessage) (env Envelope, hasSuccess bool) {
	if raw, ok := obj["success"]; ok {
		hasSuccess = true
		var b bool
		if json.Unmarshal(raw, &b) == nil {
			env.Success = b
		}
	}
	if raw, ok := obj["error"]; ok {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			env.Error = s
		} else if !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			env.Error = string(raw)
		}
	}
	if raw, ok := obj["count"]; ok {
		var n int
		if json.Unmarshal(raw, &n) == nil {
			env.Count = n
		}
	}
	if raw, ok := obj["items"]; ok {
		var records []json.RawMessage
		if json.Unmarshal(raw, &records) == nil {
			for _, rec := range records {
				var it ItemEnvelope
				if err := json.Unmarshal(rec, &it); err != nil {
					continue
				}
				env.Items = append(env.Items, it)
			}
		}
	}
	return env, hasSuccess
}

// FailureEnvelope builds the envelope used when an adapter produced
// nothing usable.
func FailureEnvelope(msg string) Envelope {
	return Envelope{Success: false, Error: msg}
}
