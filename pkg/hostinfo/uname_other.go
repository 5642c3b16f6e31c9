//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package hostinfo

func uname() (string, string, string) { return "", "", "" }
