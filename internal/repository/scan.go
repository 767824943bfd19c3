package repository

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func weekdaysToArray(days []time.Weekday) pq.Int64Array {
	out := make(pq.Int64Array, 0, len(days))
	for _, d := range days {
		out = append(out, int64(d))
	}
	return out
}

func arrayToWeekdays(a pq.Int64Array) []time.Weekday {
	if len(a) == 0 {
		return nil
	}
	out := make([]time.Weekday, 0, len(a))
	for _, v := range a {
		out = append(out, time.Weekday(v))
	}
	return out
}

// jsonMap encodes a string map for a JSONB column; nil becomes '{}'.
func jsonMap(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func decodeMap(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}
