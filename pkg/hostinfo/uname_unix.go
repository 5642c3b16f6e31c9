//go:build linux || darwin || freebsd || netbsd || openbsd

package hostinfo

import "golang.org/x/sys/unix"

// uname returns the kernel name, release and machine from uname(2).
func uname() (string, string, string) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return "", "", ""
	}
	return unix.ByteSliceToString(u.Sysname[:]),
		unix.ByteSliceToString(u.Release[:]),
		unix.ByteSliceToString(u.Machine[:])
}
