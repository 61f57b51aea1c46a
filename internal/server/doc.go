// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the GPU library over HTTP for `gpuinfo serve`.
//
// # Endpoints
//
//   - GET /api/v1/gpus          - every record, null for devices that failed
//   - GET /api/v1/gpus/{index}  - one record by global index
//   - GET /api/v1/census        - per-vendor counts and selected strategies
//   - GET /healthz              - liveness; 503 when the library is down
//   - GET /metrics              - Prometheus exposition
//
// Errors are returned as {"error":{"message":...,"code":...}} where code is
// the library's numeric error code. Requests refused by the middleware
// (401, 429, 500 on panic) use the same envelope with code 0.
//
// # Middleware
//
// Panic recovery, security headers, request logging, per-client token
// bucket rate limiting, and an optional bearer token and IP allowlist.
//
// # Usage
//
//	srv := server.New(server.Config{Addr: ":9835"}, manager, metrics)
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
