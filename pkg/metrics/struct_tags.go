package metrics

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	gaugeType      = reflect.TypeOf((*prometheus.Gauge)(nil)).Elem()
	counterType    = reflect.TypeOf((*prometheus.Counter)(nil)).Elem()
	gaugeVecType   = reflect.TypeOf((*prometheus.GaugeVec)(nil))
	counterVecType = reflect.TypeOf((*prometheus.CounterVec)(nil))
)

type metricTags struct {
	metric      string
	group       string
	description string
	labels      []string
}

// scanStruct allocates the collectors declared by the fields of a struct, and passes them to register.
//
// Fields may be a prometheus.Gauge, prometheus.Counter, *prometheus.GaugeVec or *prometheus.CounterVec.
// Fields of other types are ignored.
func scanStruct(m interface{}, constLabels prometheus.Labels, register func(...prometheus.Collector)) {
	rv := reflect.ValueOf(m)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Type().Kind() != reflect.Struct {
		panic(fmt.Sprintf("scanStruct requires a pointer to a struct, got: %T", m))
	}
	scanTags(rv.Elem(), "", constLabels, register)
}

func scanTags(container reflect.Value, subsystem string, constLabels prometheus.Labels, register func(...prometheus.Collector)) {
	containerType := container.Type()
	for i := 0; i < containerType.NumField(); i++ {
		field := containerType.Field(i)
		value := container.Field(i)
		if !value.CanSet() {
			continue
		}

		tags := fieldTags(field)
		if tags.metric == "" {
			if value.Kind() == reflect.Struct {
				scanTags(value, joinGroup(subsystem, tags.group), constLabels, register)
			}
			continue
		}

		collector := newCollector(field.Type, prometheus.Opts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        tags.metric,
			Help:        tags.description,
			ConstLabels: constLabels,
		}, tags.labels)
		if collector == nil {
			continue
		}
		value.Set(reflect.ValueOf(collector))
		register(collector)
	}
}

func newCollector(typ reflect.Type, opts prometheus.Opts, labels []string) prometheus.Collector {
	switch typ {
	case gaugeType:
		return prometheus.NewGauge(prometheus.GaugeOpts(opts))
	case counterType:
		return prometheus.NewCounter(prometheus.CounterOpts(opts))
	case gaugeVecType:
		return prometheus.NewGaugeVec(prometheus.GaugeOpts(opts), labels)
	case counterVecType:
		return prometheus.NewCounterVec(prometheus.CounterOpts(opts), labels)
	default:
		return nil
	}
}

func joinGroup(parent, group string) string {
	switch {
	case group == "":
		return parent
	case parent == "":
		return group
	default:
		return parent + "_" + group
	}
}

// fieldTags decodes field tags that decorate the struct.
// Supported tags are:
//   - metric: the metric name
//   - group: prefixes the metrics of a nested struct (e.g. snapback_{group}_{metric})
//   - description: the help text of the metric
//   - labels: comma separated variable labels, for vectors
func fieldTags(field reflect.StructField) metricTags {
	var tags metricTags
	tags.metric = field.Tag.Get("metric")
	tags.group = field.Tag.Get("group")
	tags.description = field.Tag.Get("description")
	if labels, ok := field.Tag.Lookup("labels"); ok && labels != "" {
		for _, label := range strings.Split(labels, ",") {
			tags.labels = append(tags.labels, strings.TrimSpace(label))
		}
	}
	return tags
}
