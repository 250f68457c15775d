// Package server exposes the health advisor over HTTP.
//
//	POST /v1/analyze      run the pipeline for a JSON request
//	GET  /v1/runs         list recorded runs (?status=&limit=&offset=)
//	GET  /v1/runs/{id}    one recorded run with its node outcomes
//	GET  /healthz         liveness and store health
//	GET  /metrics         prometheus metrics
//
// Analysis always answers 200 with a report once the request is accepted,
// whatever the report's status. Requests are size limited and rate limited.
package server
