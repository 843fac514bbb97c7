// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

package main

import "github.com/stashbin/stashbin/cmd"

func main() {
	cmd.Execute()
}
