// Package concept defines the capability provider contract.
//
// A provider is a named set of mutating actions and pure queries. Query
// names carry the reserved "_" prefix. Operations are declared once, at
// definition time, as an enumerated table of typed handlers; the engine
// reaches them only through Perform and Query, so an unknown name is a
// checked ErrNotFound rather than a lookup failure deep in a handler.
package concept
