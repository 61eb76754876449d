// Package privilege decides whether stopping another user's process needs
// elevated rights.
package privilege

import "os/user"

// CurrentUser returns the login name of the running process, or "" when
// it cannot be resolved.
func CurrentUser() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return u.Username
}

// RequiresElevation reports whether signalling a process owned by owner
// needs root/admin. An unknown owner is not treated as foreign.
func RequiresElevation(owner string) bool {
	if owner == "" || IsRunningAsRoot() {
		return false
	}
	return owner != CurrentUser()
}
