// Package llm wraps the OpenAI-compatible chat and embedding APIs behind a
// small interface the pipeline can fake in tests. All token accounting is
// normalized into the Usage type at this boundary; variant field names used
// by older providers never leak past it.
package llm

import "encoding/json"

// Usage is the normalized token accounting for one model call (or a sum of
// several calls when aggregated across a turn).
type Usage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// Add returns the element-wise sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		Input:  u.Input + o.Input,
		Output: u.Output + o.Output,
		Total:  u.Total + o.Total,
	}
}

// IsZero reports whether no tokens were recorded.
func (u Usage) IsZero() bool { return u.Input == 0 && u.Output == 0 && u.Total == 0 }

// usage field aliases seen across provider generations, checked in order.
var (
	inputAliases  = []string{"input", "input_tokens", "inputTokens", "prompt_tokens", "promptTokens"}
	outputAliases = []string{"output", "output_tokens", "outputTokens", "completion_tokens", "completionTokens"}
	totalAliases  = []string{"total", "total_tokens", "totalTokens"}
)

// NormalizeUsage folds a raw usage object (as decoded from provider JSON)
// into a Usage, tolerating the historical field-name variants. Missing totals
// are derived from input+output; non-numeric values count as zero.
func NormalizeUsage(raw map[string]any) Usage {
	var u Usage
	u.Input = firstInt(raw, inputAliases)
	u.Output = firstInt(raw, outputAliases)
	u.Total = firstInt(raw, totalAliases)
	if u.Total == 0 {
		u.Total = u.Input + u.Output
	}
	return u
}

// firstInt returns the first alias present in raw that parses as an integer.
func firstInt(raw map[string]any, aliases []string) int {
	for _, k := range aliases {
		v, ok := raw[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return int(i)
			}
		}
	}
	return 0
}
