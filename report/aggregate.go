// Package report turns a batch of detections into per-disease statistics.
package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/montanaflynn/stats"
)

type Severity string

const (
	SeverityLow    Severity = "Low"
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

const (
	highThreshold   = 70.0
	mediumThreshold = 40.0
	unknownClass    = "Unknown"
)

// Input is one detection as posted to /analyze; Conf is on a 0-100 scale.
type Input struct {
	Class string  `json:"class"`
	Conf  float64 `json:"conf"`
}

type DiseaseSummary struct {
	Disease       string   `json:"disease"`
	Count         int      `json:"count"`
	AvgConfidence float64  `json:"avg_confidence"`
	MaxConfidence float64  `json:"max_confidence"`
	MinConfidence float64  `json:"min_confidence"`
	Severity      Severity `json:"severity"`
}

type Analysis struct {
	TotalDetections  int              `json:"total_detections"`
	DiseasesDetected int              `json:"diseases_detected"`
	DiseaseSummary   []DiseaseSummary `json:"disease_summary"`
	Recommendations  []string         `json:"recommendations"`
	Timestamp        time.Time        `json:"timestamp"`
}

// Classify maps an average confidence onto a severity bucket.
func Classify(avg float64) Severity {
	switch {
	case avg > highThreshold:
		return SeverityHigh
	case avg > mediumThreshold:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Aggregate groups detections by class. Groups are ordered by count, ties keep
// first-seen order. An empty batch yields an empty analysis.
func Aggregate(detections []Input) Analysis {
	out := Analysis{
		TotalDetections: len(detections),
		DiseaseSummary:  []DiseaseSummary{},
		Recommendations: []string{},
		Timestamp:       time.Now(),
	}

	var order []string
	groups := make(map[string]stats.Float64Data)
	for _, d := range detections {
		class := d.Class
		if class == "" {
			class = unknownClass
		}
		if _, ok := groups[class]; !ok {
			order = append(order, class)
		}
		groups[class] = append(groups[class], d.Conf)
	}

	for _, class := range order {
		confs := groups[class]
		// errors only come back for empty input, which cannot happen here
		avg, _ := stats.Mean(confs)
		hi, _ := stats.Max(confs)
		lo, _ := stats.Min(confs)
		out.DiseaseSummary = append(out.DiseaseSummary, DiseaseSummary{
			Disease:       class,
			Count:         len(confs),
			AvgConfidence: round1(avg),
			MaxConfidence: round1(hi),
			MinConfidence: round1(lo),
			Severity:      Classify(avg),
		})
	}
	sort.SliceStable(out.DiseaseSummary, func(i, j int) bool {
		return out.DiseaseSummary[i].Count > out.DiseaseSummary[j].Count
	})
	out.DiseasesDetected = len(out.DiseaseSummary)
	out.Recommendations = recommend(out.DiseaseSummary)
	return out
}

func recommend(summary []DiseaseSummary) []string {
	recs := []string{}
	if len(summary) == 0 {
		return recs
	}
	top := summary[0]
	if top.AvgConfidence > highThreshold {
		recs = append(recs, fmt.Sprintf("High confidence %s detection. Immediate intervention recommended.", top.Disease))
	}
	return append(recs,
		fmt.Sprintf("Apply appropriate fungicide/pesticide for %s", top.Disease),
		"Monitor crop regularly for disease spread",
	)
}

func round1(v float64) float64 {
	r, err := stats.Round(v, 1)
	if err != nil {
		return v
	}
	return r
}
