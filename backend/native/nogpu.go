//go:build nogpu

// Package native is empty when built with -tags nogpu; only the cpu
// device registers.
package native
