// Package sim is the continuous simulation engine for hierarchical reaction
// networks.
//
// An Engine flattens every model scope of an Arena into one state vector and
// integrates it with an adaptive solver. Assignment rules are resolved to a
// bounded fixed point on every derivative evaluation. Events fire on the
// false to true edge of their trigger: the solver is stopped exactly at the
// crossing, due events are applied, and integration restarts from the
// updated state.
//
// An Engine is not safe for concurrent use. Cancel and the progress sink
// are the only parts meant to be touched from another goroutine.
package sim
