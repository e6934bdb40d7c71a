package model

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// StatsJSON encodes a stat vector for storage.
func StatsJSON(stats []int) datatypes.JSON {
	b, _ := json.Marshal(stats)
	return datatypes.JSON(b)
}

// StatsOf decodes an asset's stat vector. Returns nil on empty or bad data.
func StatsOf(a *Asset) []int {
	if len(a.Stats) == 0 {
		return nil
	}
	var stats []int
	if err := json.Unmarshal(a.Stats, &stats); err != nil {
		return nil
	}
	return stats
}

// StringsJSON encodes a string slice for storage.
func StringsJSON(values []string) datatypes.JSON {
	b, _ := json.Marshal(values)
	return datatypes.JSON(b)
}

// OwnerHistoryOf decodes an asset's past owners, oldest first.
func OwnerHistoryOf(a *Asset) []string {
	if len(a.OwnerHistory) == 0 {
		return nil
	}
	var owners []string
	if err := json.Unmarshal(a.OwnerHistory, &owners); err != nil {
		return nil
	}
	return owners
}
