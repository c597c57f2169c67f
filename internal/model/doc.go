// Package model holds the parsed form of a reaction-network model: one
// ModelState per scope (the top model and each submodel), kept in an Arena
// and addressed by Handle.
//
// A ModelState must not be modified once it has been added to an Arena,
// except through Arena.SetParameter before an engine is initialized.
package model
