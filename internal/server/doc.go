// Package server implements the network surfaces of the daemon: a UDP receiver that
// feeds audio from a remote microphone into the capture path, and the HTTP control
// API with health, statistics and Prometheus endpoints.
package server
