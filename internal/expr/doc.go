// Package expr compiles and evaluates the kinetic formulas used by model
// files: rate laws, rule right-hand sides, event triggers and constraints.
//
// Formulas use HCL expression syntax with numeric cty values. Comparison
// and logical operators yield booleans, which evaluate to 1 or 0 when a
// number is requested. Conditionals (c ? a : b) stand in for piecewise
// functions. The free variable time is the simulation time.
//
// A formula referencing an unknown or NaN-valued name evaluates to NaN
// rather than failing; callers decide whether NaN means "keep the previous
// value" or a configuration error.
package expr
