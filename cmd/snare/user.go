// SPDX-FileCopyrightText: 2025 M. Shulhan <ms@kilabit.info>
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"syscall"
)

// dropPrivileges switch the process to the given user: supplementary
// groups are reduced to the user's primary group, then gid and uid are set,
// HOME and USER are fixed up, and the working directory moves to "/".
// Must be called after the listen socket is bound.
func dropPrivileges(name string) (err error) {
	var logp = `dropPrivileges`

	var u *user.User

	u, err = user.Lookup(name)
	if err != nil {
		return fmt.Errorf(`%s: %w`, logp, err)
	}

	var uid, gid int

	uid, err = strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf(`%s: %w`, logp, err)
	}
	gid, err = strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf(`%s: %w`, logp, err)
	}

	err = syscall.Setgroups([]int{gid})
	if err != nil {
		return fmt.Errorf(`%s: setgroups: %w`, logp, err)
	}
	err = syscall.Setgid(gid)
	if err != nil {
		return fmt.Errorf(`%s: setgid: %w`, logp, err)
	}
	err = syscall.Setuid(uid)
	if err != nil {
		return fmt.Errorf(`%s: setuid: %w`, logp, err)
	}

	err = os.Setenv(`HOME`, u.HomeDir)
	if err != nil {
		return fmt.Errorf(`%s: %w`, logp, err)
	}
	err = os.Setenv(`USER`, u.Username)
	if err != nil {
		return fmt.Errorf(`%s: %w`, logp, err)
	}

	err = os.Chdir(`/`)
	if err != nil {
		return fmt.Errorf(`%s: %w`, logp, err)
	}

	return nil
}
