// Package source loads rules from disk and watches them for changes.
//
// # Rule Files
//
// A rule file is YAML (or JSON) holding either a list of rules or a
// document with rate limits as well:
//
//	version: "1"
//	rules:
//	  - id: block-pii
//	    type: compliance
//	    priority: 950
//	    risk_weight: 45
//	    conditions:
//	      - field: actionCategory
//	        operator: equals
//	        value: pii_access
//	    actions:
//	      - type: deny
//	rate_limits:
//	  - id: agent-per-minute
//	    window_ms: 60000
//	    max_requests: 100
//	    scope: agent
//
// # Hot Reload
//
//	src := source.NewFileSource("rules/", nil, logger)
//	w, _ := source.NewWatcher(source.DefaultWatcherConfig("rules/"), logger)
//	go w.Watch(ctx, func() error {
//	    return eng.Reload(ctx, src)
//	})
package source
