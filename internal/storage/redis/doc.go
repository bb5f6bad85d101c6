// Package redis adapts go-redis to the cache backend and event publisher
// contracts used by the goal agent.
package redis
