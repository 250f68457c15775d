// Package present renders compiled reports for people and programs: a chat
// message, a styled terminal view and JSON. Renderers only read the report.
package present
