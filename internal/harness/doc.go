// Package harness runs scripted membership scenarios against a real host
// session and client engines over the loopback transport.
//
// A scenario is a YAML file: a host, a set of client devices, and a list of
// steps that connect or disconnect clients, move the clock, send text or
// ask for a resync. Each step is run to quiescence before the next one
// starts, so the resulting trace is deterministic and can be compared to a
// golden file:
//
//	go test ./internal/harness -update
//
// regenerates testdata/golden.
package harness
