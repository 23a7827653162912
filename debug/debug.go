// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package debug exposes the kernel's introspection endpoints named in
// §4's module table ("debug", "stack trace"): a goroutine/heap activity
// chart and the standard pprof profiles, served over HTTP for a host
// attached to the running kernel.
package debug

import (
	"context"
	"net/http"

	// Self-registers a goroutine/heap chart handler onto
	// http.DefaultServeMux, the same way the teacher's web server links
	// to /debug/charts alongside /debug/pprof.
	_ "github.com/mkevac/debugcharts"
	// Self-registers the standard profiling endpoints under /debug/pprof.
	_ "net/http/pprof"
)

// Listener serves the debug endpoints on a background goroutine.
type Listener struct {
	srv *http.Server
}

// Start launches a debug HTTP server on addr. It has no explicit Handler,
// so it serves http.DefaultServeMux, picking up both debugcharts' and
// net/http/pprof's self-registered routes. The returned channel receives
// ListenAndServe's terminal error, or nil after a clean Stop.
func Start(addr string) (*Listener, <-chan error) {
	srv := &http.Server{Addr: addr}
	errc := make(chan error, 1)

	go func() {
		err := srv.ListenAndServe()
		if err == http.ErrServerClosed {
			err = nil
		}
		errc <- err
	}()

	return &Listener{srv: srv}, errc
}

// Stop shuts the server down, waiting for in-flight requests to finish or
// ctx to expire.
func (l *Listener) Stop(ctx context.Context) error {
	return l.srv.Shutdown(ctx)
}
