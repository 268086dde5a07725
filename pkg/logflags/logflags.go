package logflags

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"

	colorable "github.com/mattn/go-colorable"
	isatty "github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var debugger = false
var dap = false
var cdp = false
var breakpoints = false
var sources = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	} else {
		logger.Logger.Out = defaultOutput()
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if flag {
		return makeLogger(logrus.DebugLevel, fields)
	}
	return makeLogger(logrus.ErrorLevel, fields)
}

func defaultOutput() io.Writer {
	if runtime.GOOS == "windows" {
		return colorable.NewColorableStderr()
	}
	return os.Stderr
}

// Debugger returns true if the debugger package should log.
func Debugger() bool {
	return debugger
}

// DebuggerLogger returns a logger for the debugger package.
func DebuggerLogger() Logger {
	return makeFlaggableLogger(debugger, Fields{"layer": "debugger"})
}

// DAP returns true if debug adapter protocol messages should be logged.
func DAP() bool {
	return dap
}

// DAPLogger returns a logger for dap package.
func DAPLogger() Logger {
	return makeFlaggableLogger(dap, Fields{"layer": "dap"})
}

// CDP returns true if the messages exchanged with the runtime should be
// logged.
func CDP() bool {
	return cdp
}

// CDPLogger returns a logger for the runtime wire connection.
func CDPLogger() Logger {
	return makeFlaggableLogger(cdp, Fields{"layer": "cdp"})
}

// Breakpoints returns true if breakpoint resolution should be logged.
func Breakpoints() bool {
	return breakpoints
}

// BreakpointsLogger returns a logger for the breakpoints package.
func BreakpointsLogger() Logger {
	return makeFlaggableLogger(breakpoints, Fields{"layer": "breakpoints"})
}

// Sources returns true if script and source bookkeeping should be logged.
func Sources() bool {
	return sources
}

// SourcesLogger returns a logger for the scripts and sourcemap packages.
func SourcesLogger() Logger {
	return makeFlaggableLogger(sources, Fields{"layer": "sources"})
}

// WriteDAPListeningMessage writes the "DAP server listening" message in dap mode.
func WriteDAPListeningMessage(addr string) {
	writeListeningMessage("DAP", addr)
}

func writeListeningMessage(server string, addr string) {
	msg := fmt.Sprintf("%s server listening at: %s", server, addr)
	if logOut != nil {
		fmt.Fprintln(logOut, msg)
	} else {
		fmt.Println(msg)
	}
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets debugger flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "jsdebug-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	textFormatterInstance.DisableColors = !isTerminal(logOut)
	if logstr == "" {
		logstr = "debugger"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		// If adding another value, do make sure to
		// update "Help about logging flags" in commands.go.
		switch logcmd {
		case "debugger":
			debugger = true
		case "dap":
			dap = true
		case "cdp":
			cdp = true
		case "breakpoints":
			breakpoints = true
		case "sources":
			sources = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'jsdbg help log' for usage.\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

func isTerminal(w io.Writer) bool {
	if w == nil {
		return isatty.IsTerminal(os.Stderr.Fd())
	}
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// textFormatter is a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
var textFormatterInstance = &logrus.TextFormatter{
	DisableTimestamp: false,
	FullTimestamp:    true,
	TimestampFormat:  "2006-01-02T15:04:05Z07:00",
	DisableSorting:   true,
}
