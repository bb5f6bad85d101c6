// Package goalagent contains the orchestrator that owns goals, tasks and the
// dependency graph between them. It serialises every state transition behind
// one lock, keeps the durable store authoritative and treats the cache as a
// disposable accelerator.
package goalagent
