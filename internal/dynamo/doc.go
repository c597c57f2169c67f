// Package dynamo provides core simulation primitives for reaction-network
// models integrated as ordinary differential equations.
//
// The package defines the fundamental types shared by the integrators and
// the hierarchical engine:
//
//   - [State]: flattened vector of every variable value in every model scope
//   - [System]: interface for derivative functions (dX/dt = f(X, t))
//   - [StepResult]: outcome of one driver sub-step (ok, degraded, fatal)
//   - [SimulationError]: error carrying the time and state of a failure
//
// # Thread Safety
//
// None of the types are safe for concurrent mutation. Run independent
// simulations on independently constructed engines.
package dynamo
