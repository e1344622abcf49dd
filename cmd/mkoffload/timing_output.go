package main

import (
	"fmt"
	"strings"
	"time"

	"mkoffload/internal/buildpipeline"
)

// stageTimings renders the recorded stage durations in pipeline order
// followed by the total.
func stageTimings(timings buildpipeline.Timings) string {
	var b strings.Builder
	b.WriteString("stage times:")
	var ran []buildpipeline.Stage
	for _, stage := range buildpipeline.Stages {
		if !timings.Has(stage) {
			continue
		}
		ran = append(ran, stage)
		fmt.Fprintf(&b, " %s %.1f ms,", stage, toMillis(timings.Duration(stage)))
	}
	fmt.Fprintf(&b, " total %.1f ms", toMillis(timings.Sum(ran...)))
	return b.String()
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
