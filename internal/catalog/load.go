package catalog

import (
	"encoding/json"
	"fmt"
	"os"
)

// Load reads a catalog document from path. The document is either a bare
// JSON array of records or an object wrapping the array under one of the
// known field names ("records", "servers", "models"). A missing or
// unparseable file is a setup error: the pipeline cannot start without it.
func Load(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}

	var raws []rawRecord
	if err := json.Unmarshal(data, &raws); err != nil {
		var wrapped struct {
			Records []rawRecord `json:"records"`
			Servers []rawRecord `json:"servers"`
			Models  []rawRecord `json:"models"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
		}
		switch {
		case wrapped.Records != nil:
			raws = wrapped.Records
		case wrapped.Servers != nil:
			raws = wrapped.Servers
		case wrapped.Models != nil:
			raws = wrapped.Models
		default:
			return nil, fmt.Errorf("catalog %s has no records, servers, or models array", path)
		}
	}

	records := make([]Record, 0, len(raws))
	for _, r := range raws {
		records = append(records, adapt(r))
	}
	return records, nil
}

// FilterOrigin returns only records whose origin matches. An empty origin
// disables filtering.
func FilterOrigin(records []Record, origin string) []Record {
	if origin == "" {
		return records
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Origin == origin {
			out = append(out, r)
		}
	}
	return out
}
