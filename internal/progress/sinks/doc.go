// Package sinks implements progress consumers: structured logs and Prometheus collectors.
package sinks
