package metrics

import (
	"math"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const (
	pipelineRunsName      = namespace + "_pipeline_runs_total"
	cacheLookupsName      = namespace + "_state_cache_lookups_total"
	generationLatencyName = namespace + "_generation_latency_seconds"
)

// Snapshot summarises engine health for the admin stats endpoint.
type Snapshot struct {
	PipelineRuns    int64   `json:"pipeline_runs"`
	FallbackRuns    int64   `json:"fallback_runs"`
	CacheHitRatio   float64 `json:"cache_hit_ratio"`
	GenerationCalls int64   `json:"generation_calls"`
	GenerationP95Ms float64 `json:"generation_p95_ms"`
}

// TakeSnapshot reads the engine's series from gatherer. Missing series read
// as zero.
func TakeSnapshot(gatherer prometheus.Gatherer) Snapshot {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mfs, err := gatherer.Gather()
	if err != nil {
		return Snapshot{}
	}
	families := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		if mf != nil {
			families[mf.GetName()] = mf
		}
	}

	var snap Snapshot
	if mf := families[pipelineRunsName]; mf != nil {
		for _, metric := range mf.Metric {
			n := int64(metric.GetCounter().GetValue())
			snap.PipelineRuns += n
			if hasLabel(metric, "outcome", "fallback") {
				snap.FallbackRuns += n
			}
		}
	}
	if mf := families[cacheLookupsName]; mf != nil {
		var hits, total float64
		for _, metric := range mf.Metric {
			v := metric.GetCounter().GetValue()
			total += v
			if hasLabel(metric, "result", "hit") {
				hits += v
			}
		}
		if total > 0 {
			snap.CacheHitRatio = hits / total
		}
	}
	if mf := families[generationLatencyName]; mf != nil {
		snap.GenerationCalls, snap.GenerationP95Ms = latencyP95(mf)
	}
	return snap
}

// latencyP95 merges the successful series of a histogram family and
// interpolates the 95th percentile in milliseconds.
func latencyP95(mf *dto.MetricFamily) (int64, float64) {
	cumulativeByUpper := map[float64]uint64{}
	var total uint64
	for _, metric := range mf.Metric {
		if !hasLabel(metric, "status", "ok") {
			continue
		}
		h := metric.GetHistogram()
		if h == nil {
			continue
		}
		total += h.GetSampleCount()
		for _, b := range h.Bucket {
			cumulativeByUpper[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}
	if total == 0 {
		return 0, 0
	}

	uppers := make([]float64, 0, len(cumulativeByUpper)+1)
	for upper := range cumulativeByUpper {
		uppers = append(uppers, upper)
	}
	if _, ok := cumulativeByUpper[math.Inf(1)]; !ok {
		cumulativeByUpper[math.Inf(1)] = total
		uppers = append(uppers, math.Inf(1))
	}
	sort.Float64s(uppers)
	return int64(total), histogramQuantile(0.95, total, uppers, cumulativeByUpper) * 1000
}

func histogramQuantile(q float64, total uint64, uppers []float64, cumulativeByUpper map[float64]uint64) float64 {
	target := q * float64(total)
	var prevUpper, prevCum float64
	for _, upper := range uppers {
		cum := float64(cumulativeByUpper[upper])
		if cum < target {
			prevUpper, prevCum = upper, cum
			continue
		}
		if math.IsInf(upper, 1) {
			return prevUpper
		}
		bucketCount := cum - prevCum
		if bucketCount <= 0 {
			return upper
		}
		return prevUpper + (upper-prevUpper)*(target-prevCum)/bucketCount
	}
	return prevUpper
}

func hasLabel(metric *dto.Metric, name, value string) bool {
	for _, lp := range metric.Label {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}
