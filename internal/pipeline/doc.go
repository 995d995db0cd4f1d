// Package pipeline sequences worker sessions for one analysis request.
//
// A Run is an ordered list of stages. Before each stage the pure Decide
// function looks at what earlier stages reported and either runs the stage,
// skips it, or aborts the run. After each stage Settle maps the worker's exit
// to continue, complete or fail. Every run ends with exactly one terminal
// event: complete with the accumulated result locations, or error.
//
// The Planner builds runs from the worker definitions in workers.toml.
package pipeline
