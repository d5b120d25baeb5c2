package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNewRegistry(t *testing.T) {
	registry := NewRegistry()

	if registry == nil {
		t.Fatal("Registry should not be nil")
	}
	if !registry.IsEnabled() {
		t.Error("Registry should be enabled by default")
	}
}

func TestRegistryEnableDisable(t *testing.T) {
	registry := NewRegistry()

	registry.SetEnabled(false)
	registry.Counter("dropped_counter", nil)
	if len(registry.GetMetrics()) != 0 {
		t.Error("Disabled registry should not record metrics")
	}

	registry.SetEnabled(true)
	registry.Counter("recorded_counter", nil)
	if len(registry.GetMetrics()) != 1 {
		t.Error("Enabled registry should record metrics")
	}
}

func TestCounter(t *testing.T) {
	registry := NewRegistry()
	labels := Labels{LabelScanner: "lynis"}

	registry.Counter("test_counter", labels)
	registry.Counter("test_counter", labels)

	metrics := registry.GetMetrics()
	if len(metrics) != 1 {
		t.Fatalf("Expected 1 metric, got %d", len(metrics))
	}
	for _, metric := range metrics {
		if metric.Type != TypeCounter {
			t.Errorf("Expected counter type, got %s", metric.Type)
		}
		if metric.Value != 2 {
			t.Errorf("Expected value 2, got %f", metric.Value)
		}
	}
}

func TestCounterAdd(t *testing.T) {
	registry := NewRegistry()

	registry.CounterAdd("cleanup_counter", 7, nil)
	registry.CounterAdd("cleanup_counter", 3, nil)

	for _, metric := range registry.GetMetrics() {
		if metric.Value != 10 {
			t.Errorf("Expected value 10, got %f", metric.Value)
		}
	}

	// Zero and negative amounts are ignored.
	registry.CounterAdd("cleanup_counter", 0, nil)
	registry.CounterAdd("cleanup_counter", -5, nil)
	for _, metric := range registry.GetMetrics() {
		if metric.Value != 10 {
			t.Errorf("Expected value unchanged at 10, got %f", metric.Value)
		}
	}
}

func TestGauge(t *testing.T) {
	registry := NewRegistry()

	registry.Gauge("test_gauge", 42, nil)
	registry.Gauge("test_gauge", 17, nil)

	metrics := registry.GetMetrics()
	if len(metrics) != 1 {
		t.Fatalf("Expected 1 metric, got %d", len(metrics))
	}
	for _, metric := range metrics {
		if metric.Type != TypeGauge {
			t.Errorf("Expected gauge type, got %s", metric.Type)
		}
		if metric.Value != 17 {
			t.Errorf("Expected last set value 17, got %f", metric.Value)
		}
	}
}

func TestHistogram(t *testing.T) {
	registry := NewRegistry()

	registry.Histogram("test_histogram", 1.5, Labels{LabelScanner: "trivy"})

	for _, metric := range registry.GetMetrics() {
		if metric.Type != TypeHistogram {
			t.Errorf("Expected histogram type, got %s", metric.Type)
		}
		if metric.Value != 1.5 {
			t.Errorf("Expected value 1.5, got %f", metric.Value)
		}
	}
}

func TestMakeKey(t *testing.T) {
	registry := NewRegistry()

	if key := registry.makeKey("plain", nil); key != "plain" {
		t.Errorf("Expected bare name for nil labels, got %s", key)
	}

	key := registry.makeKey("labeled", Labels{LabelScanner: "lynis"})
	if !strings.HasPrefix(key, "labeled") {
		t.Errorf("Expected key prefixed with metric name, got %s", key)
	}
	if !strings.Contains(key, "scanner=lynis") {
		t.Errorf("Expected key to include label pair, got %s", key)
	}
}

func TestGetMetricsReturnsCopies(t *testing.T) {
	registry := NewRegistry()
	registry.Gauge("snapshot_gauge", 1, Labels{LabelScanner: "lynis"})

	snapshot := registry.GetMetrics()
	for _, metric := range snapshot {
		metric.Value = 99
		metric.Labels[LabelScanner] = "mutated"
	}

	for _, metric := range registry.GetMetrics() {
		if metric.Value != 1 {
			t.Errorf("Snapshot mutation leaked into registry value: %f", metric.Value)
		}
		if metric.Labels[LabelScanner] != "lynis" {
			t.Errorf("Snapshot mutation leaked into registry labels: %v", metric.Labels)
		}
	}
}

func TestReset(t *testing.T) {
	registry := NewRegistry()
	registry.Counter("to_clear", nil)
	registry.Reset()

	if len(registry.GetMetrics()) != 0 {
		t.Error("Reset should clear all metrics")
	}
}

func TestConcurrentAccess(t *testing.T) {
	registry := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				registry.Counter("concurrent_counter", nil)
				registry.Gauge("concurrent_gauge", float64(j), nil)
				registry.GetMetrics()
			}
		}()
	}
	wg.Wait()

	metrics := registry.GetMetrics()
	counter := metrics["concurrent_counter"]
	if counter == nil {
		t.Fatal("Expected concurrent_counter to exist")
	}
	if counter.Value != 1000 {
		t.Errorf("Expected 1000 increments, got %f", counter.Value)
	}
}

func TestTimer(t *testing.T) {
	registry := NewRegistry()
	old := Default()
	SetDefault(registry)
	defer SetDefault(old)

	timer := NewTimer("timed_operation", nil)
	time.Sleep(5 * time.Millisecond)
	timer.Stop()

	metric := registry.GetMetrics()["timed_operation"]
	if metric == nil {
		t.Fatal("Expected timer metric to be recorded")
	}
	if metric.Type != TypeHistogram {
		t.Errorf("Expected histogram type, got %s", metric.Type)
	}
	if metric.Value <= 0 {
		t.Errorf("Expected positive duration, got %f", metric.Value)
	}
}

func TestScanHelpers(t *testing.T) {
	registry := NewRegistry()
	old := Default()
	SetDefault(registry)
	defer SetDefault(old)

	RecordScanDuration("lynis", 90*time.Second)
	IncrementScansTotal("lynis", "completed")
	IncrementScanErrors("trivy", "web-1")
	SetActiveScans(3)

	metrics := registry.GetMetrics()
	if len(metrics) != 4 {
		t.Fatalf("Expected 4 metrics, got %d", len(metrics))
	}

	found := map[string]bool{}
	for _, metric := range metrics {
		found[metric.Name] = true
	}
	for _, name := range []string{MetricScanDuration, MetricScansTotal, MetricScanErrors, MetricActiveScans} {
		if !found[name] {
			t.Errorf("Expected metric %s to be recorded", name)
		}
	}
}
