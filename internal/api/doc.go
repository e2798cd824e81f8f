// Package api exposes the task orchestrator over HTTP. It decodes and
// validates requests, calls the task service, and maps service errors to
// status codes and sanitized messages. Routing, authentication and tracing
// middleware live in the middleware subpackage; response helpers are in shared.
package api
