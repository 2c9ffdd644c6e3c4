package services

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/datachat-labs/go-datachat-backend/internal/domain"
	"github.com/datachat-labs/go-datachat-backend/internal/llm"
)

// dateAliases is the priority-ordered list of column names treated as the
// chart's time axis. First match wins.
var dateAliases = []string{
	"date", "day", "week", "month", "quarter", "year",
	"period", "order_date", "created_at", "timestamp",
}

// metricKeywords ranks metric candidates when the model cannot choose.
// Earlier groups win over later ones.
var metricKeywords = [][]string{
	{"revenue", "sales", "amount", "total", "profit"},
	{"count", "transactions", "orders", "quantity"},
	{"points", "visits", "members"},
}

const (
	chartSampleRows     = 50
	numericShareMinimum = 0.6
)

const chartPickPrompt = `You pick the single best metric column for a time-series chart answering the user's question.
Reply with exactly one of the candidate column names, verbatim, nothing else.`

// ChartInferrer derives an optional time-series chart from an executed
// query result. It is purely additive: every failure path yields a nil
// chart and the turn continues.
type ChartInferrer struct {
	LLM       llm.Invoker
	MaxPoints int
}

// Infer examines the result for a date-like column and a numeric metric
// column and, when both exist, builds the chart series. The returned
// usage covers the optional model call used to pick among multiple
// metric candidates.
func (c *ChartInferrer) Infer(ctx context.Context, question string, result *QueryResult) (*domain.ChartSpec, llm.Usage) {
	var usage llm.Usage
	if result == nil || len(result.Rows) == 0 {
		return nil, usage
	}

	dateIdx := findDateColumn(result.Columns)
	if dateIdx < 0 {
		return nil, usage
	}

	candidates := metricCandidates(result, dateIdx)
	if len(candidates) == 0 {
		return nil, usage
	}

	metric := candidates[0]
	if len(candidates) > 1 {
		picked, u := c.pickMetric(ctx, question, result, candidates)
		usage = u
		metric = picked
	}

	metricIdx := columnIndex(result.Columns, metric)
	spec := c.buildSeries(result, dateIdx, metricIdx)
	return spec, usage
}

// pickMetric asks the model to choose among candidates, falling back to
// the keyword heuristic when the reply is not a verbatim candidate name
// or the call fails.
func (c *ChartInferrer) pickMetric(ctx context.Context, question string, result *QueryResult, candidates []string) (string, llm.Usage) {
	sample := renderResultSample(result, 5)
	user := "Question: " + question + "\nCandidates: " + strings.Join(candidates, ", ") + "\n\nSample:\n" + sample

	comp, err := c.LLM.Invoke(ctx, []llm.Message{llm.System(chartPickPrompt), llm.User(user)})
	if err != nil {
		log.Debug().Err(err).Msg("chart metric pick failed, using keyword heuristic")
		return keywordMetric(candidates), comp.Usage
	}
	reply := strings.TrimSpace(comp.Content)
	for _, cand := range candidates {
		if strings.EqualFold(reply, cand) {
			return cand, comp.Usage
		}
	}
	return keywordMetric(candidates), comp.Usage
}

// buildSeries maps rows to chart points, dropping rows whose date is
// blank or whose metric does not parse, capping the series size, and
// sorting lexicographically by the date key (valid for year-first date
// formats).
func (c *ChartInferrer) buildSeries(result *QueryResult, dateIdx, metricIdx int) *domain.ChartSpec {
	dateKey := result.Columns[dateIdx]
	metricKey := result.Columns[metricIdx]

	points := make([]map[string]any, 0, len(result.Rows))
	for _, row := range result.Rows {
		date := strings.TrimSpace(row[dateIdx])
		if date == "" {
			continue
		}
		value, ok := parseNumeric(row[metricIdx])
		if !ok {
			continue
		}
		points = append(points, map[string]any{dateKey: date, metricKey: value})
		if c.MaxPoints > 0 && len(points) >= c.MaxPoints {
			break
		}
	}
	if len(points) == 0 {
		return nil
	}
	sort.SliceStable(points, func(i, j int) bool {
		a, _ := points[i][dateKey].(string)
		b, _ := points[j][dateKey].(string)
		return a < b
	})
	return &domain.ChartSpec{Type: "line", DateKey: dateKey, MetricKey: metricKey, Points: points}
}

func findDateColumn(columns []string) int {
	for _, alias := range dateAliases {
		for i, col := range columns {
			if strings.EqualFold(col, alias) {
				return i
			}
		}
	}
	return -1
}

// metricCandidates returns the columns (excluding the date column) whose
// sampled values are at least 60% numeric-parseable.
func metricCandidates(result *QueryResult, dateIdx int) []string {
	n := len(result.Rows)
	if n > chartSampleRows {
		n = chartSampleRows
	}
	var out []string
	for i, col := range result.Columns {
		if i == dateIdx {
			continue
		}
		numeric := 0
		for _, row := range result.Rows[:n] {
			if _, ok := parseNumeric(row[i]); ok {
				numeric++
			}
		}
		if n > 0 && float64(numeric)/float64(n) >= numericShareMinimum {
			out = append(out, col)
		}
	}
	return out
}

func keywordMetric(candidates []string) string {
	for _, group := range metricKeywords {
		for _, kw := range group {
			for _, cand := range candidates {
				if strings.Contains(strings.ToLower(cand), kw) {
					return cand
				}
			}
		}
	}
	return candidates[0]
}

func columnIndex(columns []string, name string) int {
	for i, col := range columns {
		if col == name {
			return i
		}
	}
	return 0
}

// parseNumeric parses a value as a float, tolerating comma grouping
// ("1,234.5") and surrounding whitespace.
func parseNumeric(s string) (float64, bool) {
	t := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if t == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(t, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
