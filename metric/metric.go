// Package metric exposes processing counters of graph nodes with expvar.
package metric

import (
	"expvar"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"
)

const processorsLabel = "xap.processors"

const (
	// BlockCounter measures number of processed blocks.
	BlockCounter = "Blocks"
	// SampleCounter measures number of samples.
	SampleCounter = "Samples"
	// LatencyCounter measures latency between processing calls.
	LatencyCounter = "Latency"
	// DurationCounter counts what's the duration of signal.
	DurationCounter = "Duration"
	// ComponentCounter counts number of measured processors.
	ComponentCounter = "Components"
	// ErrorCounter counts blocks processed with error status.
	ErrorCounter = "Errors"
)

var (
	processors = metrics{
		m: make(map[string]metric),
	}

	counters = []string{
		BlockCounter,
		SampleCounter,
		LatencyCounter,
		DurationCounter,
		ComponentCounter,
		ErrorCounter,
	}
)

// Get metrics values for provided processor type.
func Get(processor interface{}) map[string]string {
	return getCounters(getType(processor))
}

// GetAll returns counters for all measured processors.
func GetAll() map[string]map[string]string {
	m := make(map[string]map[string]string)
	processors.Lock()
	defer processors.Unlock()
	for processor := range processors.m {
		m[processor] = getCounters(processor)
	}
	return m
}

func getCounters(processorType string) map[string]string {
	m := make(map[string]string)
	for _, counter := range counters {
		v := expvar.Get(key(processorType, counter))
		if v != nil {
			m[counter] = v.String()
		}
	}
	return m
}

// ResetFunc returns new Measure closure. This closure is needed to postpone metrics
// capture until processor is actually running.
type ResetFunc func() MeasureFunc

// MeasureFunc captures metrics when block is processed.
type MeasureFunc func(frames int, failed bool)

// Meter creates new meter closure to capture processor counters.
func Meter(processor interface{}, sampleRate float64) ResetFunc {
	t := getType(processor)
	metric := processors.get(t)
	metric.components.Add(1)
	return func() MeasureFunc {
		calledAt := time.Now()
		var (
			frames        int
			blockDuration time.Duration
		)
		return func(n int, failed bool) {
			metric.latency.set(time.Since(calledAt))
			metric.blocks.Add(1)
			metric.samples.Add(int64(n))
			if failed {
				metric.errors.Add(1)
			}
			// recalculate block duration only when block size has changed
			if frames != n {
				frames = n
				blockDuration = DurationOf(sampleRate, n)
			}
			metric.duration.add(blockDuration)
			calledAt = time.Now()
		}
	}
}

// DurationOf returns time duration of provided number of samples.
func DurationOf(sampleRate float64, samples int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(samples) * float64(time.Second) / sampleRate)
}

type metrics struct {
	sync.Mutex
	m map[string]metric
}

func (m *metrics) get(processorType string) metric {
	m.Lock()
	defer m.Unlock()
	if metric, ok := m.m[processorType]; ok {
		return metric
	}
	metric := newMetric(processorType)
	m.m[processorType] = metric
	return metric
}

type metric struct {
	components *expvar.Int
	blocks     *expvar.Int
	samples    *expvar.Int
	errors     *expvar.Int
	latency    *duration
	duration   *duration
}

func newMetric(processorType string) metric {
	m := metric{
		components: expvar.NewInt(key(processorType, ComponentCounter)),
		blocks:     expvar.NewInt(key(processorType, BlockCounter)),
		samples:    expvar.NewInt(key(processorType, SampleCounter)),
		errors:     expvar.NewInt(key(processorType, ErrorCounter)),
		latency:    &duration{},
		duration:   &duration{},
	}
	expvar.Publish(key(processorType, LatencyCounter), m.latency)
	expvar.Publish(key(processorType, DurationCounter), m.duration)
	return m
}

func key(processorType, counter string) string {
	return fmt.Sprintf("%s.%s.%s", processorsLabel, processorType, counter)
}

func getType(processor interface{}) string {
	rv := reflect.ValueOf(processor)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	return rv.Type().String()
}

// duration allows to format time.Duration metric values.
type duration struct {
	d atomic.Int64
}

func (v *duration) String() string {
	return fmt.Sprintf("%q", time.Duration(v.d.Load()).String())
}

func (v *duration) add(delta time.Duration) {
	v.d.Add(int64(delta))
}

func (v *duration) set(value time.Duration) {
	v.d.Store(int64(value))
}
