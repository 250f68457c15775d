// Package telemetry provides observability for graph runs.
//
// It combines structured logging (zerolog), distributed tracing (OpenTelemetry),
// metrics (Prometheus) and a run event publisher. The scheduler takes a
// *Telemetry and emits one span, one set of metrics and a timeline of events
// per run and per node:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Type, e.NodeID)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
//
// Every component tolerates nil members, so tests can use Nop().
package telemetry
