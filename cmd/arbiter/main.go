// Arbiter is a policy decision service for autonomous agents.
//
// Agents describe an action they are about to take; Arbiter evaluates it
// against a prioritized rule set and returns a verdict: approved, denied,
// pending approval, requires review or rate limited.
//
// Usage:
//
//	# Start the decision API
//	arbiter serve --config arbiter.yaml
//
//	# Evaluate one action offline against a rules directory
//	arbiter evaluate --rules ./rules --action delete_records --category database --env production
//
//	# Validate rule files
//	arbiter rules lint ./rules
//
//	# Show execution order and dependency problems
//	arbiter rules deps ./rules
//
//	# Show version information
//	arbiter version
package main

func main() {
	Execute()
}
