package database

import (
	"database/sql"
	"encoding/json"
	"time"
)

// nullStringValue converts a sql.NullString to a string (empty if not valid)
func nullStringValue(n sql.NullString) string {
	if n.Valid {
		return n.String
	}
	return ""
}

// nullableString converts a string to a driver value, writing NULL for empty
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// toUnix converts a time to the epoch-second column representation
func toUnix(t time.Time) int64 {
	return t.UTC().Unix()
}

// fromUnix converts an epoch-second column value back to a time
func fromUnix(n int64) time.Time {
	return time.Unix(n, 0).UTC()
}

// nullUnixToPtr converts a nullable epoch-second column to a time pointer
func nullUnixToPtr(n sql.NullInt64) *time.Time {
	if n.Valid {
		t := fromUnix(n.Int64)
		return &t
	}
	return nil
}

// ptrToUnix converts a time pointer to a driver value (NULL when nil)
func ptrToUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toUnix(*t)
}

// marshalToPtr marshals a value to JSON and returns a pointer to the string
// Returns nil if the value is nil or empty
func marshalToPtr(v map[string]any) (*string, error) {
	if len(v) == 0 {
		return nil, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

// unmarshalFromNullString unmarshal JSON from a sql.NullString into a value
// If the string is not valid or empty, does nothing and returns nil
func unmarshalFromNullString(data sql.NullString, v any) error {
	if !data.Valid || data.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(data.String), v)
}
