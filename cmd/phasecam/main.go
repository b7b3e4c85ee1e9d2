// Package main is the phasecam command: it captures a frame, detects the
// growth phase and drives the servo, once or on a fixed interval.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "phasecam:", err)
		os.Exit(1)
	}
}
