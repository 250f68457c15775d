// Package stores persists run history in SQLite: finished runs with their
// compiled report and final state, per-node outcomes, the telemetry event
// log and an audit trail. Schema changes are applied with golang-migrate
// from embedded migrations.
package stores
