// Package metrics exposes Arbiter activity as Prometheus metrics.
//
// A Collector owns a registry with two metric groups:
//
//   - EngineMetrics implements engine.Observer and records evaluations,
//     rule matches, decision cache activity, rate limit hits and faults.
//   - HTTPMetrics records API requests; the server middleware feeds it.
//
// # Usage
//
//	collector := metrics.NewCollector(metrics.Config{}, nil)
//	eng, _ := engine.New(cfg, engine.Options{Observer: collector.Engine()})
//	router.Handle("/metrics", collector.Handler())
//
// Rule and rate limit ids become label values. Their number is capped by
// Config.MaxRuleLabels; ids beyond the cap are counted under "other".
package metrics
