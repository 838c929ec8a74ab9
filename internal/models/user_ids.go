package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
)

// UserIDs stores user identifiers as a JSON array.
type UserIDs []uint64

// Value implements driver.Valuer for database serialization.
func (ids UserIDs) Value() (driver.Value, error) {
	data, errMarshal := json.Marshal(ids.Clean())
	if errMarshal != nil {
		return nil, fmt.Errorf("user ids marshal: %w", errMarshal)
	}
	// Stored as text so SQLite json_each can read it.
	return string(data), nil
}

// Scan implements sql.Scanner for database deserialization.
func (ids *UserIDs) Scan(value any) error {
	if ids == nil {
		return fmt.Errorf("user ids scan: nil receiver")
	}
	if value == nil {
		*ids = UserIDs{}
		return nil
	}

	var data []byte
	switch typed := value.(type) {
	case []byte:
		data = typed
	case string:
		data = []byte(typed)
	default:
		return fmt.Errorf("user ids scan: unsupported type %T", value)
	}
	if len(data) == 0 {
		*ids = UserIDs{}
		return nil
	}

	var list []uint64
	if errList := json.Unmarshal(data, &list); errList != nil {
		return fmt.Errorf("user ids scan: invalid json: %w", errList)
	}
	*ids = UserIDs(list).Clean()
	return nil
}

// Clean removes zero values and duplicates and sorts the ids.
func (ids UserIDs) Clean() UserIDs {
	if len(ids) == 0 {
		return UserIDs{}
	}
	seen := make(map[uint64]struct{}, len(ids))
	cleaned := make(UserIDs, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		cleaned = append(cleaned, id)
	}
	sort.Slice(cleaned, func(i, j int) bool { return cleaned[i] < cleaned[j] })
	return cleaned
}

// Contains reports whether id is in the list.
func (ids UserIDs) Contains(id uint64) bool {
	if id == 0 {
		return false
	}
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
