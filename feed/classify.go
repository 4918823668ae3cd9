package feed

import "encoding/json"

// Message classes produced by Classify.
const (
	ClassSnapshot = "snapshot"
	ClassDiff     = "diff"
	ClassIgnore   = "ignore"
)

// Classify decides whether a transport frame carries a full snapshot, an
// incremental diff batch, or something the book does not care about
// (subscription acks, heartbeats, unknown channels). Unparseable frames
// classify as ignore; the caller logs and drops them.
func Classify(data []byte) string {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return ClassIgnore
	}
	// Some feeds wrap payloads in a {channel, data} envelope.
	if inner, ok := probe["data"]; ok {
		var innerProbe map[string]json.RawMessage
		if err := json.Unmarshal(inner, &innerProbe); err == nil {
			if class := classifyFields(innerProbe); class != ClassIgnore {
				return class
			}
		}
	}
	return classifyFields(probe)
}

// Unwrap strips a {channel, data} envelope when present so the engine
// always parses the bare payload.
func Unwrap(data []byte) []byte {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return data
	}
	if inner, ok := probe["data"]; ok {
		var innerProbe map[string]json.RawMessage
		if err := json.Unmarshal(inner, &innerProbe); err == nil {
			if classifyFields(innerProbe) != ClassIgnore {
				return inner
			}
		}
	}
	return data
}

func classifyFields(fields map[string]json.RawMessage) string {
	if _, ok := fields["levels"]; ok {
		return ClassSnapshot
	}
	if _, ok := fields["order_statuses"]; ok {
		return ClassDiff
	}
	return ClassIgnore
}
