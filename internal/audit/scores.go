package audit

import (
	"encoding/json"
	"math"
	"strings"
)

// DefaultMetric is used for any metric the model omits or garbles.
const DefaultMetric = 0.5

// Metrics are decentralization scores in [0,1], higher is better.
type Metrics struct {
	Autonomy       float64 `json:"autonomy"`
	ExitWindow     float64 `json:"exitwindow"`
	Chain          float64 `json:"chain"`
	Upgradeability float64 `json:"upgradeability"`
}

// DefaultMetrics returns every metric at DefaultMetric.
func DefaultMetrics() Metrics {
	return Metrics{
		Autonomy:       DefaultMetric,
		ExitWindow:     DefaultMetric,
		Chain:          DefaultMetric,
		Upgradeability: DefaultMetric,
	}
}

// ClampMetric turns an arbitrary decoded JSON value into a metric.
// Non-numbers and NaN become DefaultMetric; numbers clamp to [0,1].
func ClampMetric(v any) float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return DefaultMetric
		}
		f = parsed
	default:
		return DefaultMetric
	}
	if math.IsNaN(f) {
		return DefaultMetric
	}
	return math.Max(0, math.Min(1, f))
}

// ParseMetrics reads the metrics completion. Unparseable content yields defaults.
func ParseMetrics(content string) Metrics {
	content = strings.TrimSpace(content)
	if content == "" {
		return DefaultMetrics()
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return DefaultMetrics()
	}
	return Metrics{
		Autonomy:       ClampMetric(raw["autonomy"]),
		ExitWindow:     ClampMetric(raw["exitwindow"]),
		Chain:          ClampMetric(raw["chain"]),
		Upgradeability: ClampMetric(raw["upgradeability"]),
	}
}
