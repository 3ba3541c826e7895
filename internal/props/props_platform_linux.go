//go:build linux
// +build linux

// File: internal/props/props_platform_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package props

// UseRxPollingSupported reports whether this platform's provider
// exposes a pollable completion descriptor for the UseRxPolling
// property (spec §4.9/§6): only Linux does, mirroring the original's
// `#ifdef _WIN32` rejection of a true value on SetProperty.
func UseRxPollingSupported() bool { return true }
