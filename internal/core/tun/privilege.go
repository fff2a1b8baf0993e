package tun

import (
	"os"

	pkgerrors "mouse/pkg/errors"
)

// geteuid is swapped in tests.
var geteuid = os.Geteuid

// CheckPrivileges returns an error if not running as root.
func CheckPrivileges() error {
	if geteuid() != 0 {
		return pkgerrors.ErrNotRoot
	}
	return nil
}
