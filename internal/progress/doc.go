// Package progress carries capture lifecycle events from request handling to
// pluggable sinks. Emitters never block: a Hub batches events on a background
// goroutine and fans them out to sinks such as logs or Prometheus.
package progress
