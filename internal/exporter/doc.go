// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package exporter publishes GPU records as Prometheus metrics.
//
// The collector is pull based: every scrape calls the library once for the
// census and once for the records, so values are as fresh as the backends
// can provide. Fields a backend could not read are omitted rather than
// exported as zero.
package exporter
