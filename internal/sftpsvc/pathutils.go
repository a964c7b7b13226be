// Package sftpsvc implements the SFTP session cache and transfer
// manager (spec §4.6). Named sftpsvc, not sftp, to avoid shadowing
// github.com/pkg/sftp in import lists.
package sftpsvc

import (
	"path"
	"strings"
)

// NormalizePath resolves "~"-relative paths against home and collapses
// ".." segments, grounded on original_source's sftp/path_utils.rs
// (spec §4.6 "Remote path normalization").
func NormalizePath(p, home string) string {
	if p == "" {
		p = "."
	}
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		p = path.Join(home, strings.TrimPrefix(p, "~/"))
	}
	if !path.IsAbs(p) {
		p = path.Join(home, p)
	}
	return path.Clean(p)
}

// JoinRemote joins a remote cwd with a relative (or absolute) child
// path, matching POSIX remote-filesystem semantics regardless of the
// local OS's path conventions.
func JoinRemote(cwd, child string) string {
	if path.IsAbs(child) {
		return path.Clean(child)
	}
	return path.Clean(path.Join(cwd, child))
}

// ParentDir returns the remote parent directory of p.
func ParentDir(p string) string {
	if p == "/" {
		return "/"
	}
	return path.Dir(p)
}

// Base returns the final path component.
func Base(p string) string {
	return path.Base(p)
}
