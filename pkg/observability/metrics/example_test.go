package metrics_test

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nimburion/unitofwork/pkg/observability/metrics"
)

func ExampleNewRegistry() {
	registry := metrics.NewRegistry()

	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())

	fmt.Println("metrics mounted")
	// Output: metrics mounted
}

func ExampleRegistry_Register() {
	registry := metrics.NewRegistry()

	migrations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "migrations_applied_total",
		Help: "Schema migrations applied",
	})
	if err := registry.Register(migrations); err != nil {
		fmt.Println("register failed:", err)
		return
	}
	migrations.Inc()

	fmt.Println("collector registered")
	// Output: collector registered
}
