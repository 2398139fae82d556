//go:build windows

package main

import (
	"os"
)

// terminationSignals lists the signals that should trigger a graceful shutdown.
// Only os.Interrupt (Ctrl+C) is delivered on Windows.
var terminationSignals = []os.Signal{os.Interrupt}
