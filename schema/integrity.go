// Package schema defines the canonical Profile shape: conformance checks,
// deterministic repair and the xp/level relation.
package schema

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"

	"game-profile-engine/models"
)

// CheckIntegrity reports whether raw is a profile document the engine can trust.
// Required: id, username, stats object with a numeric totalGames (zero allowed),
// achievements array. Never panics; anything unparsable is simply invalid.
func CheckIntegrity(raw []byte) bool {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return false
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return false
	}
	if id := doc.Get("id"); id.Type != gjson.String || id.Str == "" {
		return false
	}
	if doc.Get("username").Type != gjson.String {
		return false
	}
	stats := doc.Get("stats")
	if !stats.IsObject() {
		return false
	}
	if stats.Get("totalGames").Type != gjson.Number {
		return false
	}
	return doc.Get("achievements").IsArray()
}

// CheckProfile runs CheckIntegrity on a typed profile.
func CheckProfile(p *models.Profile) bool {
	if p == nil {
		return false
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return false
	}
	return CheckIntegrity(raw)
}

// LastUpdatedOf extracts lastUpdated from a raw document; zero when absent or unparsable.
func LastUpdatedOf(raw []byte) time.Time {
	t, _ := parseTime(gjson.GetBytes(raw, "lastUpdated"))
	return t
}

// IsEmergency reports whether raw carries the synthesized-profile tag.
func IsEmergency(raw []byte) bool {
	return gjson.GetBytes(raw, "emergency").IsObject()
}
