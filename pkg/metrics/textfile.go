package metrics

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// WriteTextfile writes the metrics of the run for the node_exporter textfile collector.
//
// The file is replaced atomically. When the run failed, the time of the last success
// is carried over from the previous content of the file.
func (r *Run) WriteTextfile(path string) error {
	if previous, ok := readLastSuccess(path, r.job); ok {
		r.carryLastSuccess(previous)
	}
	return prometheus.WriteToTextfile(path, r.registry)
}

func readLastSuccess(path, job string) (float64, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer func() { _ = f.Close() }()

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(f)
	if err != nil {
		return 0, false
	}
	family, ok := families[namespace+"_last_success_timestamp_seconds"]
	if !ok {
		return 0, false
	}
	for _, m := range family.GetMetric() {
		for _, label := range m.GetLabel() {
			if label.GetName() == "job_name" && label.GetValue() == job && m.GetGauge() != nil {
				return m.GetGauge().GetValue(), true
			}
		}
	}
	return 0, false
}
