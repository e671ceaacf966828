// Package telemetry provides the observability stack for converge:
// structured logging (zerolog), metrics (Prometheus), tracing
// (OpenTelemetry) and run lifecycle events.
//
// Initialize once at startup and carry through the context:
//
//	tel, err := telemetry.New(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//	ctx = tel.WithContext(ctx)
//
// Components take a zerolog.Logger tagged per component:
//
//	engine := diff.NewEngine(tel.Logger.Component("diff"))
//
// Metrics are off by default; one-shot CLI runs have nothing to scrape.
// Watch mode enables them and serves the endpoint via StartServer.
package telemetry
