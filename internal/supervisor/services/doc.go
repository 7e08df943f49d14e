// attackmap - Real-Time Attack Telemetry Map
// Copyright 2026 O. Weller
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oweller/attackmap

// Package services contains suture.Service wrappers for the long-running
// parts of the attackmap server: the HTTP listener and the retention
// janitor that prunes the pipeline's in-memory state.
package services
