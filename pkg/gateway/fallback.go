package gateway

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/Renator13/botnode-public/pkg/api"
)

const defaultFallbackRows = 10

// FallbackOutput returns the deterministic output substituted when the skill
// backend cannot serve skillID. Skills without a dedicated shape get the
// generic simulated envelope.
func FallbackOutput(skillID string, params map[string]any, now time.Time) (map[string]any, error) {
	if params == nil {
		params = map[string]any{}
	}
	switch skillID {
	case "csv_parser":
		rows, err := intParam(params, "rows", defaultFallbackRows)
		if err != nil {
			return nil, err
		}
		columns, ok := params["columns"]
		if !ok {
			columns = []any{"id", "name"}
		}
		return map[string]any{
			"rows_processed": rows,
			"columns":        columns,
			"errors":         []any{},
			"summary": map[string]any{
				"total_rows":   rows,
				"valid_rows":   rows,
				"invalid_rows": 0,
			},
		}, nil
	case "sentiment_analyzer":
		text := ""
		if v, ok := params["text"]; ok && v != nil {
			text = fmt.Sprint(v)
		}
		return map[string]any{
			"sentiment_score": 0.1,
			"sentiment_label": "neutral",
			"confidence":      0.7,
			"text_analyzed":   text,
			"key_phrases":     []any{},
		}, nil
	}
	return map[string]any{
		"status":       "simulated",
		"skill_id":     skillID,
		"parameters":   params,
		"generated_at": now.UTC().Truncate(time.Second).Format(time.RFC3339),
	}, nil
}

func intParam(params map[string]any, key string, fallback int64) (int64, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return fallback, nil
	}
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		if f, err := n.Float64(); err == nil {
			return int64(math.Trunc(f)), nil
		}
	case float64:
		return int64(math.Trunc(n)), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, nil
		}
	}
	return 0, api.BadRequest("parameter %s must be an integer", key)
}
