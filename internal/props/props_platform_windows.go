//go:build windows
// +build windows

// File: internal/props/props_platform_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package props

// UseRxPollingSupported is always false on Windows, matching the
// original's compile-time rejection of UseRxPolling=true there.
func UseRxPollingSupported() bool { return false }
