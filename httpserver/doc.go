/*
Package httpserver exposes a storage manager over HTTP.

# Key-value API

	GET    /api/kv/{key}?consistency=strong   200 value, 404 when absent
	PUT    /api/kv/{key}?consistency=strong   204, body is the value
	DELETE /api/kv/{key}?consistency=strong   204, also for absent keys

The consistency parameter accepts strong, eventual, read_your_writes and causal
and defaults to strong.

# Introspection

	GET    /api/metrics    manager counters as JSON
	DELETE /api/metrics    reset the counters
	GET    /api/backends   registered backends as JSON

# Errors

Errors are returned as {"code": "...", "message": "..."}. Invalid keys and
options map to 400, missing backends and unreachable services to 503,
everything else to 500.

# Health

/livez, /readyz, /drain and /undrain behave as load balancers expect; /readyz
additionally fails when no enabled backend is reachable.
*/
package httpserver
