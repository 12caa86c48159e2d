// SPDX-FileCopyrightText: 2025 M. Shulhan <ms@kilabit.info>
// SPDX-License-Identifier: GPL-3.0-or-later

// Program snare receive GitHub webhook deliveries and run per-repository
// commands.
package main

import (
	"flag"
	"fmt"
	"log/syslog"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"syscall"

	"git.sr.ht/~shulhan/pakakeh.go/lib/mlog"

	"git.sr.ht/~shulhan/snare"
)

// verboseFlag count repeated "-v" options.
type verboseFlag int

func (v *verboseFlag) String() string {
	return strconv.Itoa(int(*v))
}

func (v *verboseFlag) Set(string) error {
	*v++
	return nil
}

func (v *verboseFlag) IsBoolFlag() bool {
	return true
}

func main() {
	mlog.SetPrefix(`snare:`)

	var (
		configFile string
		foreground bool
		verbose    verboseFlag
	)

	flag.StringVar(&configFile, `c`, `/etc/snare/snare.conf`,
		`path to the configuration file`)
	flag.BoolVar(&foreground, `d`, false,
		`stay in the foreground and log to stderr`)
	flag.Var(&verbose, `v`,
		`raise verbosity, may be repeated`)
	flag.Parse()

	snare.SetVerbosity(int(verbose))

	if !foreground {
		err := initSyslog()
		if err != nil {
			mlog.Fatalf(err.Error())
		}
	}

	cfg, err := snare.LoadConfig(configFile)
	if err != nil {
		mlog.Fatalf(err.Error())
	}

	if os.Geteuid() == 0 && len(cfg.User) == 0 {
		mlog.Fatalf(`refusing to run as root without the "user" option`)
	}

	s, err := snare.New(cfg)
	if err != nil {
		mlog.Fatalf(err.Error())
	}

	// The listen socket is bound by New; privileges can go now.
	if len(cfg.User) != 0 {
		err = dropPrivileges(cfg.User)
		if err != nil {
			mlog.Fatalf(err.Error())
		}
	}

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
		for sig := range c {
			if sig == syscall.SIGHUP {
				err := s.Reload()
				if err != nil {
					mlog.Errf(err.Error())
				}
				continue
			}
			err := s.Stop()
			if err != nil {
				mlog.Errf(err.Error())
			}
			return
		}
	}()

	defer func() {
		err := recover()
		if err != nil {
			mlog.Errf("recover: %s\n", err)
			mlog.Flush()
			debug.PrintStack()
			os.Exit(1)
		}
	}()
	defer mlog.Flush()

	err = s.Start()
	if err != nil {
		mlog.Fatalf(err.Error())
	}
}

// initSyslog register syslog, facility daemon, as additional log writers.
func initSyslog() (err error) {
	out, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, `snare`)
	if err != nil {
		return fmt.Errorf(`initSyslog: %w`, err)
	}
	serr, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_ERR, `snare`)
	if err != nil {
		return fmt.Errorf(`initSyslog: %w`, err)
	}

	mlog.RegisterOutputWriter(mlog.NewNamedWriter(`syslog`, out))
	mlog.RegisterErrorWriter(mlog.NewNamedWriter(`syslog-err`, serr))

	return nil
}
