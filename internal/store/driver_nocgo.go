//go:build !(cgo && sqlite_vec)

package store

import (
	_ "modernc.org/sqlite"
)

// driverName selects the pure-Go modernc.org/sqlite driver in every build
// without the sqlite_vec,cgo tags, cgo builds included. vec_compat.go registers its vec0-compatible virtual table
// and vec_distance_cosine function directly against this driver, so ANN
// queries keep working without a C toolchain.
const driverName = "sqlite"
