//go:build cgo && sqlite_vec

package store

import (
	_ "github.com/mattn/go-sqlite3"
)

// driverName selects the cgo sqlite3 driver in builds with the
// sqlite_vec,cgo tags, where init_vec.go registers the real sqlite-vec
// extension for ANN search. Every other build uses driver_nocgo.go's
// pure-Go driver together with vec_compat.go's in-memory vec0 module.
const driverName = "sqlite3"
