// Package health aggregates component checks for the Arbiter API server.
//
// Checks are registered by name as critical or optional. The server
// registers the rule set as critical, and the audit store, approval store
// and rule poller as optional, since evaluation continues without them.
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("rules", func(ctx context.Context) error {
//	    if len(eng.ListRules()) == 0 {
//	        return errors.New("no rules loaded")
//	    }
//	    return nil
//	})
//	checker.RegisterOptionalCheck("approval_store", func(ctx context.Context) error {
//	    return rdb.Ping(ctx).Err()
//	})
//
//	r.Get("/health", checker.Handler())
//	r.Get("/health/live", checker.LivenessHandler())
//
// Checks run concurrently, each bounded by the checker's timeout.
package health
