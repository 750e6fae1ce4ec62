// Copyright (c) 2024 the authors
// Use of this source code is governed by a MIT license found in the LICENSE file.

// Package embedded provides sealing interfaces so that tool implementations
// are restricted to this module.
package embedded

type Tool interface {
	tool()
}

type BuiltInTool interface {
	Tool

	builtInTool()
}
