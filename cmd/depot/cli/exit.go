// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError ends the process with Code and no further message. "cache
// get" returns one on a miss, after reporting the miss itself.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode is what main looks for before printing an error.
func (e *ExitError) ExitCode() int {
	return e.Code
}
