package console

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

const (
	passMark = "✓"
	failMark = "✗"
	nameCols = 40
)

// RenderSummary writes a human readable end-of-test summary.
func RenderSummary(w io.Writer, v *types.TestVerdict) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "\n  test: %s (run %s)\n", v.Name, v.RunID)
	fmt.Fprintf(bw, "  duration: %s\n", v.Duration.Round(time.Millisecond))
	if v.Reason != "" {
		fmt.Fprintf(bw, "  note: %s\n", v.Reason)
	}

	snap := v.Snapshot
	writeChecks(bw, snap)
	writeMetrics(bw, snap)
	writeThresholds(bw, v.Thresholds)

	result := "PASSED"
	if !v.Passed {
		result = "FAILED"
	}
	fmt.Fprintf(bw, "\n  result: %s (exit code %d)\n\n", result, v.ExitCode())
	return bw.Flush()
}

func writeChecks(w io.Writer, snap *metrics.Snapshot) {
	var names []string
	rates := make(map[string]*metrics.MetricSnapshot)
	for _, key := range snap.Keys() {
		ms, _ := snap.Get(key)
		if ms.Name != metrics.ChecksName || len(ms.Tags) != 1 {
			continue
		}
		name, ok := ms.Tags[metrics.CheckTag]
		if !ok {
			continue
		}
		names = append(names, name)
		rates[name] = ms
	}
	if len(names) == 0 {
		return
	}

	fmt.Fprintln(w)
	for _, name := range names {
		ms := rates[name]
		passes, fails := ms.Values["passes"], ms.Values["fails"]
		if fails == 0 {
			fmt.Fprintf(w, "     %s %s\n", passMark, name)
			continue
		}
		fmt.Fprintf(w, "     %s %s\n", failMark, name)
		fmt.Fprintf(w, "      ↳  %s%% %s %s / %s %s\n",
			formatFloat(ms.Values["rate"]*100), passMark, formatFloat(passes), failMark, formatFloat(fails))
	}
}

func writeMetrics(w io.Writer, snap *metrics.Snapshot) {
	keys := snap.Keys()
	// 父指标在前，子指标紧随其后
	sort.SliceStable(keys, func(i, j int) bool {
		a, _ := snap.Get(keys[i])
		b, _ := snap.Get(keys[j])
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if len(a.Tags) != len(b.Tags) {
			return len(a.Tags) < len(b.Tags)
		}
		return keys[i] < keys[j]
	})

	fmt.Fprintln(w)
	seconds := snap.Elapsed.Seconds()
	for _, key := range keys {
		ms, _ := snap.Get(key)
		if ms.Empty() {
			continue
		}
		label := ms.Name
		indent := "     "
		if len(ms.Tags) > 0 {
			// 每个检查单独列在上方，这里不再重复
			if ms.Name == metrics.ChecksName {
				continue
			}
			label = "{ " + tagString(ms.Tags) + " }"
			indent = "       "
		}
		fmt.Fprintf(w, "%s%s: %s\n", indent, dots(label, nameCols-len(indent)), formatValues(ms, seconds))
	}
}

func writeThresholds(w io.Writer, results []types.ThresholdResult) {
	if len(results) == 0 {
		return
	}
	fmt.Fprintln(w, "\n  THRESHOLDS")
	for _, r := range results {
		mark := passMark
		if !r.Passed {
			mark = failMark
		}
		detail := "value=" + formatFloat(r.Value)
		if r.Reason != "" {
			detail = r.Reason
		}
		fmt.Fprintf(w, "    %s %s: %s  %s\n", mark, r.Metric, r.Expression, detail)
	}
}

func formatValues(ms *metrics.MetricSnapshot, seconds float64) string {
	v := ms.Values
	switch ms.Type {
	case metrics.Counter:
		rate := 0.0
		if seconds > 0 {
			rate = v["count"] / seconds
		}
		return fmt.Sprintf("%s  %s/s", formatValue(v["count"], ms.Contains), formatValue(rate, ms.Contains))
	case metrics.Rate:
		return fmt.Sprintf("%s%%  %s %s  %s %s",
			formatFloat(v["rate"]*100), passMark, formatFloat(v["passes"]), failMark, formatFloat(v["fails"]))
	case metrics.Gauge:
		return fmt.Sprintf("%s  min=%s max=%s",
			formatValue(v["value"], ms.Contains), formatValue(v["min"], ms.Contains), formatValue(v["max"], ms.Contains))
	case metrics.Trend:
		parts := []string{"count=" + formatFloat(v["count"]), "sum=" + formatValue(v["sum"], ms.Contains)}
		for _, stat := range []string{"avg", "min", "med", "max", "p(90)", "p(95)"} {
			parts = append(parts, stat+"="+formatValue(v[stat], ms.Contains))
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}

func formatValue(v float64, contains metrics.ValueType) string {
	switch contains {
	case metrics.Time:
		return formatDuration(v)
	case metrics.Data:
		return formatBytes(v)
	default:
		return formatFloat(v)
	}
}

// formatDuration 输入为毫秒
func formatDuration(ms float64) string {
	switch {
	case ms >= 60_000:
		return time.Duration(ms * float64(time.Millisecond)).Round(time.Second).String()
	case ms >= 1000:
		return formatFloat(ms/1000) + "s"
	case ms >= 1 || ms == 0:
		return formatFloat(ms) + "ms"
	default:
		return formatFloat(ms*1000) + "µs"
	}
}

func formatBytes(b float64) string {
	units := []string{"B", "kB", "MB", "GB", "TB"}
	i := 0
	for b >= 1000 && i < len(units)-1 {
		b /= 1000
		i++
	}
	return formatFloat(b) + " " + units[i]
}

// formatFloat 最多保留两位小数，去掉多余的零
func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

func tagString(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ":" + tags[k]
	}
	return strings.Join(parts, ", ")
}

func dots(label string, width int) string {
	if n := width - len(label); n > 2 {
		return label + strings.Repeat(".", n)
	}
	return label + ".."
}
