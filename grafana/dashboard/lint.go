// Package dashboard ships the Grafana dashboard for the bot's metrics and
// checks it against a structural schema.
package dashboard

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed ledger_sniper.json
var LedgerSniper []byte

// schema is the subset of the Grafana dashboard model the bot relies on.
const schema = `{
	"type": "object",
	"required": ["title", "uid", "panels"],
	"properties": {
		"title": {"type": "string", "minLength": 1},
		"uid": {"type": "string", "minLength": 1},
		"panels": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["id", "type", "title", "targets"],
				"properties": {
					"id": {"type": "integer"},
					"type": {"type": "string"},
					"title": {"type": "string"},
					"targets": {
						"type": "array",
						"minItems": 1,
						"items": {
							"type": "object",
							"required": ["refId", "expr"],
							"properties": {
								"refId": {"type": "string"},
								"expr": {"type": "string", "minLength": 1}
							}
						}
					}
				}
			}
		}
	}
}`

// ValidateDashboard checks dashboardJSON against the schema.
func ValidateDashboard(dashboardJSON []byte) (bool, []gojsonschema.ResultError, error) {
	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewBytesLoader(dashboardJSON))
	if err != nil {
		return false, nil, fmt.Errorf("validation error: %w", err)
	}
	if result.Valid() {
		return true, nil, nil
	}
	return false, result.Errors(), nil
}

var metricName = regexp.MustCompile(`ledger_sniper_[a-z_]+`)

// MetricNames returns the metric families the panel queries reference,
// with histogram suffixes stripped.
func MetricNames(dashboardJSON []byte) ([]string, error) {
	var d struct {
		Panels []struct {
			Targets []struct {
				Expr string `json:"expr"`
			} `json:"targets"`
		} `json:"panels"`
	}
	if err := json.Unmarshal(dashboardJSON, &d); err != nil {
		return nil, fmt.Errorf("failed to decode dashboard: %w", err)
	}
	seen := make(map[string]struct{})
	for _, p := range d.Panels {
		for _, t := range p.Targets {
			for _, name := range metricName.FindAllString(t.Expr, -1) {
				for _, suffix := range []string{"_bucket", "_sum", "_count"} {
					name = strings.TrimSuffix(name, suffix)
				}
				seen[name] = struct{}{}
			}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}
