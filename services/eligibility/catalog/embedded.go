// Copyright (C) 2025 IncentiveGrid (dev@incentivegrid.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package catalog

import (
	_ "embed"
)

// DefaultPrograms holds the raw bytes of the starter catalog baked into
// the binary at compile time. It covers the common federal/state/utility
// program shapes (percentage credit with bonus adders, per-unit rebate,
// tiered utility program) so the CLI and the tests work out of the box
// without any catalog directory.
//
//go:embed default_programs.yaml
var DefaultPrograms []byte
