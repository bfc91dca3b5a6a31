// Copyright 2026 ERPilot, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package observability

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryTracer is a Tracer that accumulates metrics in process memory.
// It backs the dispatcher's counters and is the default tracer in tests,
// where assertions read counters back via MetricValue.
//
// Thread-safe: a single mutex guards the counter map.
type MemoryTracer struct {
	mu      sync.Mutex
	metrics map[string]float64
}

// NewMemoryTracer creates an in-memory metrics tracer.
func NewMemoryTracer() *MemoryTracer {
	return &MemoryTracer{metrics: make(map[string]float64)}
}

// StartSpan creates a span linked to any parent in the context.
func (t *MemoryTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span) {
	span := newSpan(ctx, name, opts...)
	return ContextWithSpan(ctx, span), span
}

// EndSpan finalizes span timing.
func (t *MemoryTracer) EndSpan(span *Span) {
	finishSpan(span)
}

// RecordMetric accumulates the value under the metric name plus sorted labels.
func (t *MemoryTracer) RecordMetric(name string, value float64, labels map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics[metricKey(name, labels)] += value
}

// RecordEvent does nothing; events belong on spans.
func (t *MemoryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
}

// Flush does nothing; metrics live in memory.
func (t *MemoryTracer) Flush(ctx context.Context) error {
	return nil
}

// MetricValue returns the accumulated value for a metric name and label set.
func (t *MemoryTracer) MetricValue(name string, labels map[string]string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metrics[metricKey(name, labels)]
}

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, labels[k])
	}
	return b.String()
}

var _ Tracer = (*MemoryTracer)(nil)
