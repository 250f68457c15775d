// Package remote provides HTTP/JSON clients for external extraction,
// analysis and recommendation services. Failures are returned as engine
// errors so retry decorators can tell transient failures from permanent ones.
package remote
