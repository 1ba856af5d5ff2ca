// Package observability provides OpenTelemetry-based tracing and metrics
// for the distribution backend, plus a small set of higher-level
// primitives (SLI/SLO tracking, an audit timeline) built on top of it.
//
// # Tracing and metrics
//
// Initialize a Provider at application startup:
//
//	obs, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "packforge-distro",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   0.1, // 10% sampling in production
//	})
//	defer obs.Shutdown(ctx)
//
// Track an operation from start to finish — this starts a span, records
// RED metrics (rate, errors, duration), and ends the span on completion:
//
//	ctx, finish := obs.TrackOperation(ctx, "import.run", observability.ImportOperation(modpackID, "running", 0, 0)...)
//	defer finish(err)
//
// Record metrics directly when TrackOperation's span lifecycle doesn't fit:
//
//	obs.RecordRequest(ctx, observability.AccessOperation(modpackID, true, "")...)
//	obs.RecordError(ctx, err, observability.PaymentOperation("A", "declined")...)
//
// # SLI/SLO tracking
//
// SLIRegistry holds indicator definitions; SLOTracker ingests observations
// and reports burn-rate and compliance status per operation:
//
//	tracker := observability.NewSLOTracker()
//	tracker.Record(observability.SLOObservation{Operation: "payment.capture", Latency: d, Success: true, Timestamp: ts})
//	status, err := tracker.Status("payment.capture")
//
// # Audit timeline
//
// AuditTimeline accumulates content-hash-stamped entries queryable by
// run, tenant, and time range, for after-the-fact reconstruction of what
// happened to a given import, purchase, or withdrawal.
package observability
