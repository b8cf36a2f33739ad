// Package agent implements the conversational agent runtime: a
// provider-backed turn loop with conversation history, optional tool
// execution, and a streaming variant that emits typed deltas while a turn
// is running.
//
// The runtime is constructed per session from a configuration snapshot and
// is owned by exactly one caller at a time; it performs no locking of its
// own beyond protecting its history.
package agent
