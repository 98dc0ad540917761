// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError makes the CLI exit with Code without printing anything
// more. The command has already reported the outcome, as "request"
// does for a rejected request.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode is checked by main to tell a reported outcome from an
// unexpected error.
func (e *ExitError) ExitCode() int {
	return e.Code
}
