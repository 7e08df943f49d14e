// attackmap - Real-Time Attack Telemetry Map
// Copyright 2026 O. Weller
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oweller/attackmap

// Package supervisor builds the Suture supervision tree for the attackmap
// server.
//
// The tree has two child layers under the root:
//   - pipeline: retention janitor for the bus, deduper, and aggregator
//   - api: the HTTP server (REST ingest plus the WebSocket stream)
//
// A crash in the pipeline layer restarts only its services; the API layer
// keeps serving. Suture lifecycle events are logged through sutureslog,
// which routes to the process-wide zerolog sink via logging.NewSlogLogger.
package supervisor
