// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !linux && !windows && !darwin

package detect

import "github.com/jeranaias/gpuinfo/pkg/model"

func platformStrategies(model.Vendor, Options) []Strategy { return nil }
