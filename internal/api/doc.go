// Package api hosts the HTTP server and its middleware. Routes:
//   - GET / answers with a plain-text liveness banner.
//   - GET /fetch-now?token=... triggers one collection run.
//   - GET /v1/entries/{day} lists stored entries for a day.
//   - GET /healthz and /readyz for probes; /readyz pings the entry store.
//   - GET /metrics for Prometheus scraping.
package api
