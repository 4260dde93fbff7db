// Package main hosts the penzu-sync entrypoint.
//
// One invocation performs one full sync and exits:
//   - Configuration: .env files are loaded first (existing variables win), then Viper merges the optional
//     --config file with PENZU_* variables and the bare API_URL, MONGO_URI and OAUTH_* names.
//   - Listing: pages of the journal are requested with limit/order/page until an empty or short page comes back.
//     Every request is OAuth1-signed.
//   - Detail & persistence: each listed id is fetched from <API_URL>/<id> and upserted with $set into
//     penzu.entries (or the Postgres/memory stores). Raw responses are optionally archived to local disk or GCS
//     and a Pub/Sub event is published per saved entry when a topic is configured.
//   - Exit status: non-zero when configuration is invalid, a store cannot be opened or written, or a listing page
//     fails. Individual entries that cannot be fetched are logged and skipped.
//
// Quick checklist:
//   - Required env: API_URL, MONGO_URI, OAUTH_CONSUMER_KEY, OAUTH_CONSUMER_SECRET, OAUTH_TOKEN, OAUTH_TOKEN_SECRET.
//   - Run locally: go run ./cmd/penzusync --config config.yaml
//   - Metrics: set PENZU_METRICS_PUSHGATEWAY_URL to push run counters when the process finishes.
package main
