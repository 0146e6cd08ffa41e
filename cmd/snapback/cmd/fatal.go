package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/oneconcern/snapback/pkg/core/status"
	"github.com/oneconcern/snapback/pkg/errors"
)

// exit codes of the CLI
const (
	exitFailure    = 1
	exitValidation = 2
	exitLocked     = 3
)

var (
	// globals used to patch over calls to os.Exit() during test

	logFatalln = log.Fatalln
	osExit     = os.Exit

	// infoLogger wraps informative messages to stderr without cluttering the output of commands
	infoLogger = log.New(os.Stderr, "", 0)
)

func wrapFatalln(msg string, err error) {
	if err == nil {
		logFatalln(msg)
	} else {
		logFatalln(fmt.Errorf(msg+": %w", err))
	}
}

// exitCode tells how the process exits after a failed run
func exitCode(err error) int {
	switch {
	case errors.Is(err, status.ErrLocked):
		return exitLocked
	case errors.Is(err, status.ErrValidation):
		return exitValidation
	default:
		return exitFailure
	}
}

func wrapFatalWithCode(err error) {
	_, _ = fmt.Fprintln(os.Stderr, err)
	osExit(exitCode(err))
}
