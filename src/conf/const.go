// Package conf contains the constants that are used across packages for configuring
// versions and stack sizes, and the optional exmat.toml runtime configuration.
package conf

import (
	"fmt"
	"time"
)

const (
	// EXMATSIGNATURE is an artifact to put at the beginning of a dumped fnproto so that we can detect binary data.
	EXMATSIGNATURE = "\x1bExMat"
	// EXMATVERSION is the version of the exmat application.
	EXMATVERSION = "ExMat 0.1.0"
	// EXMATVERSIONMAJORN is the major version.
	EXMATVERSIONMAJORN = 0
	// EXMATVERSIONMINORN is the minor version.
	EXMATVERSIONMINORN = 1
	// EXMATVERSIONPATCHN is the patch version.
	EXMATVERSIONPATCHN = 0
	// EXMATFORMAT dump/undump format incase it ever changes.
	EXMATFORMAT = 0
	// INITIALSTACKSIZE  stack size at vm startup.
	INITIALSTACKSIZE = 128
	// MAXSTACKSIZE  max stack size.
	MAXSTACKSIZE = 1 << 20
	// INITIALFRAMES call frames allocated at vm startup.
	INITIALFRAMES = 16
	// MAXNATIVECALLS max nesting of calls that re-enter the interpreter from
	// the host.
	MAXNATIVECALLS = 100
	// MAXOUTERS max allowed outers referred in a fn scope.
	MAXOUTERS = 255
	// MAXLOCALS max allowed slots used in a fn scope, 255 is reserved for no target.
	MAXLOCALS = 254
	// MAXLITERALS max amount of literals that a fnproto can store.
	MAXLITERALS = 1 << 31
	// MAXJUMP max distance of a short jump, used by AND, OR and FOREACH.
	MAXJUMP = 1<<15 - 1
)

// FullVersion returns the version and copyright.
func FullVersion() string {
	return fmt.Sprintf("%v Copyright (C) %v", EXMATVERSION, time.Now().Year())
}

// Copyright is the copyright to be written out in the CLI.
func Copyright() string {
	return fmt.Sprintf("Copyright (C) %v", time.Now().Year())
}
