// pkg/registry/schema.go
package registry

// Seed is the bootstrap configuration applied through the admin operations
// at startup.
type Seed struct {
	Version             string           `json:"version"`
	LastUpdated         string           `json:"lastUpdated"`
	Tiers               []TierSeed       `json:"tiers"`
	AllowList           []AllowListEntry `json:"allowList"`
	DailyLimits         map[string]int64 `json:"dailyLimits,omitempty"`
	DisabledActionTypes []string         `json:"disabledActionTypes,omitempty"`
}

type TierSeed struct {
	Name         string   `json:"name"`
	Price        int64    `json:"price"`
	DurationDays int      `json:"durationDays"`
	MaxQueries   uint64   `json:"maxQueries"`
	MaxActions   uint64   `json:"maxActions"`
	Features     []string `json:"features,omitempty"`
	Inactive     bool     `json:"inactive,omitempty"`
}

type AllowListEntry struct {
	Protocol  string   `json:"protocol"`
	Addresses []string `json:"addresses"`
}

const seedSchema = `{
  "type": "object",
  "required": ["version", "tiers"],
  "properties": {
    "version": {"type": "string", "minLength": 1},
    "lastUpdated": {"type": "string"},
    "tiers": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "price", "durationDays"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "price": {"type": "integer", "minimum": 1},
          "durationDays": {"type": "integer", "minimum": 1},
          "maxQueries": {"type": "integer", "minimum": 0},
          "maxActions": {"type": "integer", "minimum": 0},
          "features": {"type": "array", "items": {"type": "string"}},
          "inactive": {"type": "boolean"}
        },
        "additionalProperties": false
      }
    },
    "allowList": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["protocol", "addresses"],
        "properties": {
          "protocol": {"enum": ["staking", "dex", "governance", "yield", "token", "custom"]},
          "addresses": {"type": "array", "items": {"type": "string", "minLength": 1}}
        },
        "additionalProperties": false
      }
    },
    "dailyLimits": {
      "type": "object",
      "additionalProperties": {"type": "integer", "minimum": 0}
    },
    "disabledActionTypes": {"type": "array", "items": {"type": "string"}}
  },
  "additionalProperties": false
}`
