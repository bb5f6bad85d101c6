// Package api exposes the goal agent's tools over HTTP. Each tool is invoked
// with POST /api/v1/tools/{name} and a JSON argument object; the package also
// serves health and Prometheus endpoints for operators. Tool routes can be
// guarded with API keys through WithAuth.
package api
