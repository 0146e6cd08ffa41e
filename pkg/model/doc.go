// Package model describes the base objects manipulated by snapback.
//
// The object model for snapback is composed of:
//
//  Jobs:
//    A job binds a source set to a destination root, with the exclude patterns,
//    hooks and transport settings used on every run. A job is immutable once built.
//
//  Locations:
//    A source or destination path, either local or on a remote host ([user@]host:path).
//    At most one side of a job may be remote.
//
//  Tiers:
//    A retention horizon made of a fixed number of named slots:
//    daily (one slot per weekday), weekly (a ring of 4 weeks) and monthly (one slot per calendar month).
//
//  Layout:
//    Resolves slot paths under a destination root:
//
//      {root}/daily/{sunday..saturday}
//      {root}/weekly/{week1..week4}
//      {root}/monthly/{january..december}
//      {root}/latest -> daily/<weekday of the last completed run>
package model
