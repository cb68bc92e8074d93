// Package app wires configuration into the agent's core components and
// builds the structured logger shared by the wavecore binaries.
package app
