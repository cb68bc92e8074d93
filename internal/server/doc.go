// Package server implements the local HTTP API of the wavecore agent.
// It exposes conversion, submission and download endpoints over the core
// packages, drives live microphone capture with a volume feed over
// WebSocket, and serves health, statistics and Prometheus metrics.
package server
