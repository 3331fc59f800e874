// Package llm defines the inference collaborator used by the router and the
// agent engine. Providers live in sub-packages; this package holds the
// request/response contract, the bounded retry wrapper and a scripted
// provider for offline runs and tests.
package llm
