//go:build !linux && !windows
// +build !linux,!windows

// File: internal/props/props_platform_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package props

// UseRxPollingSupported is false on any platform other than Linux,
// where this module has no concrete provider (spec §1).
func UseRxPollingSupported() bool { return false }
