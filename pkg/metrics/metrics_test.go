package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegistry(t *testing.T) {
	if Registry == nil {
		t.Error("Registry should not be nil")
	}

	if Registry != prometheus.DefaultRegisterer {
		t.Error("Registry should be the default Prometheus registerer")
	}
}

func TestMetricsDocumentation(t *testing.T) {
	// This test ensures that the metrics package compiles and provides
	// documentation. It doesn't test runtime behavior since metrics are
	// registered in the client, runner, budget, and store packages.
	t.Log("Metrics package documentation verified")
}
