// Package main hosts the forumharvest command.
//
// forumharvest walks the newest-questions listing of a Q&A forum page by
// page, extracts one record per question summary (numeric id, posting time,
// tags) and upserts each record into MongoDB or Postgres keyed by id.
//
// Architecture overview:
//   - Dispatcher & queue: the page range 1..source.page_count is enqueued onto
//     a bounded in-memory queue and drained by crawler.concurrency goroutines
//     sharing one worker. SIGINT/SIGTERM stop new pages from starting; pages
//     already in flight finish.
//   - Fetch pipeline: the Colly-based fetcher renders the URL template and
//     reports non-200 responses and transport failures as absent pages. The
//     goquery extractor skips entries with a missing id or timestamp.
//   - Persistence: records are upserted one at a time. A failed upsert is
//     logged and counted; the rest of the page continues.
//   - Observability: zap logs go to stderr; progress events feed a terminal
//     bar, Prometheus collectors pushed to a Pushgateway at run end, and an
//     optional Postgres run ledger.
//
// Quick checklist:
//   - Configure env vars: HARVEST_STORE_PROVIDER, HARVEST_STORE_URI,
//     HARVEST_SOURCE_PAGE_COUNT, HARVEST_CRAWLER_CONCURRENCY,
//     HARVEST_METRICS_PUSHGATEWAY_URL.
//   - Run locally: go run ./cmd/forumharvest run --pages 3 --store memory
package main
