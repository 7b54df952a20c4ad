// Package analytics ingests client events and answers aggregate queries over them.
//
// # Ingestion
//
// Ingestor.Ingest moves a collect request through
//
//	received -> validated -> persisted -> counters_updated | counters_failed
//
// The first three stages are synchronous: a validation or persistence failure is
// returned to the caller and nothing else happens. Once the row is written the
// rolling counter update is submitted to a bounded async.TaskQueue and the call
// returns; a full queue or a counter store failure is logged and counted, never
// surfaced.
//
// # Queries
//
// Engine.Summarize reads the events table directly (count, distinct tracking users,
// mobile/desktop split). Rolling counters are never consulted for summaries.
//
//	svc := analytics.NewService(engine, summaryCache, 7)
//	summary, err := svc.EventSummary(ctx, analytics.SummaryRequest{
//		UserID: userID,
//		Event:  "page_view",
//		AppID:  appID,
//	})
//
// Summaries are cached under cache.Fingerprint keys for the cache TTL. BypassCache
// deletes the entry, recomputes and stores the fresh value.
//
// # Batch jobs
//
// Rollup.RollupDay writes per key, event and day totals with device, browser, os,
// hourly and referrer breakdowns to event_summaries. Exporter.ExportDay archives a
// day of events as NDJSON.
package analytics
