// Package observability records engine, lifecycle and dissolution events
// as OpenTelemetry metrics.
//
// Register a MetricsExtension with the engine and every hook it implements
// increments a counter:
//
//	eng, _ := engine.New(store,
//	    engine.WithExtension(observability.NewMetricsExtension()),
//	)
package observability
