// Package config loads the goal agent configuration from a YAML file,
// fills in defaults, applies GOAL_AGENT_* and REDIS_* environment overrides
// and validates the result before any component is constructed.
package config
