// Package approval tracks actions that a verdict sent to human review.
//
// The engine never blocks on a reviewer: it returns a pending_approval
// verdict and the caller opens a request with Workflow.Submit. Reviewers
// resolve it with Workflow.Resolve; the agent polls Workflow.Get.
//
// Requests live in a Store. MemoryStore suits a single process; RedisStore
// shares requests across replicas and relies on key TTLs for cleanup.
package approval
