// Package agent contains the execution engine that runs a reasoning strategy
// as an explicit state machine over the inference collaborator and the tool
// registry. Each run owns an append-only trace that records every state
// transition and is frozen when the run terminates.
package agent
