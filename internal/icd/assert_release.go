//go:build !debug

package icd

import "github.com/cwbudde/conebeam-mbir/internal/sysmatrix"

// assertZiplineDisjoint is a no-op in release builds; see
// assert_debug.go for the checked version.
func assertZiplineDisjoint(a *sysmatrix.SysMatrix, jx, jy, zStart, zStop int) {}
