// Package httpserver describes HTTP servers the commands start and stop.
package httpserver

import "io"

// Provider serves until closed. Start blocks.
type Provider interface {
	Start() error
	io.Closer
}

// Runner serves in the background.
type Runner interface {
	Run()
}

type RunableProvider interface {
	Provider
	Runner
}
