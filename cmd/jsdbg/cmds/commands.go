package cmds

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/go-delve/jsdebug/cmd/jsdbg/cmds/helphelpers"
	"github.com/go-delve/jsdebug/pkg/breakpoints"
	"github.com/go-delve/jsdebug/pkg/config"
	"github.com/go-delve/jsdebug/pkg/logflags"
	"github.com/go-delve/jsdebug/pkg/resource"
	"github.com/go-delve/jsdebug/pkg/sourcemap"
	"github.com/go-delve/jsdebug/pkg/version"
	"github.com/go-delve/jsdebug/service"
	"github.com/go-delve/jsdebug/service/dap"
	"github.com/go-delve/jsdebug/service/debugger"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// addr is the debugging server listen address.
	addr string
	// breakOnLoad is the default break on load strategy.
	breakOnLoad string
	// columnBreakpoints snaps breakpoints to possible breakpoint locations.
	columnBreakpoints bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const jsdbgCommandLongDesc = `jsdbg is a debug adapter for JavaScript runtimes.

It speaks the Debug Adapter Protocol to the editor and the runtime's remote
debugging protocol to Node.js, Chrome or any other runtime that exposes a
websocket debugger endpoint (node --inspect, chrome --remote-debugging-port).

Breakpoints are kept on the sources the editor knows, and bound to the
scripts the runtime loads, following source maps and path substitution rules.`

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	// Config setup and load.
	var err error
	conf, err = config.LoadConfig()
	if err != nil && !docCall {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	// Main jsdbg root command.
	rootCommand = &cobra.Command{
		Use:   "jsdbg",
		Short: "jsdbg is a debug adapter for JavaScript runtimes.",
		Long:  jsdbgCommandLongDesc,
	}

	rootCommand.PersistentFlags().StringVarP(&addr, "listen", "l", "127.0.0.1:0", "Debugging server listen address.")
	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debugging server logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'jsdbg help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'jsdbg help log').")

	// 'dap' subcommand.
	dapCommand := &cobra.Command{
		Use:   "dap",
		Short: "Starts a TCP server communicating via Debug Adaptor Protocol (DAP).",
		Long: `Starts a TCP server communicating via Debug Adaptor Protocol (DAP).

The server is always headless and requires a DAP client like VS Code to connect
and request an attach to a runtime's websocket debugger URL. The server handles
a single debug session and exits when the client disconnects.

Attach requests accept the following attributes:

	address              websocket debugger URL of the runtime (required)
	breakOnLoadStrategy  instrument, regex or off
	runtimeVersion       version to assume when the runtime reports none
	stackTraceDepth      maximum number of frames reported (default 50)
	substitutePath       [{"from": local prefix, "to": runtime prefix}, ...]`,
		Run: dapCmd,
	}
	dapCommand.Flags().StringVar(&breakOnLoad, "break-on-load", "", `Default break on load strategy: instrument, regex or off (default "instrument").`)
	dapCommand.Flags().BoolVar(&columnBreakpoints, "column-breakpoints", true, "Snap breakpoints to the statements the runtime can break on.")
	rootCommand.AddCommand(dapCommand)

	// 'version' subcommand.
	var versionVerbose = false
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("jsdbg Debugger\n%s\n", version.JSDebugVersion)
			if versionVerbose {
				fmt.Printf("Build Details: %s\n", version.BuildInfo())
			}
		},
		ValidArgsFunction: cobra.NoFileCompletions,
	}
	versionCommand.Flags().BoolVarP(&versionVerbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	debugger	Log session events and pause decisions
	dap		Log all DAP messages
	cdp		Log all messages exchanged with the runtime
	breakpoints	Log breakpoint resolution
	sources		Log scripts, sources and source maps

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
This option will also redirect the "server listening at" message.

`,
	})

	rootCommand.DisableAutoGenTag = true

	usage := rootCommand.UsageFunc()
	rootCommand.SetUsageFunc(func(cmd *cobra.Command) error {
		helphelpers.Prepare(cmd)
		return usage(cmd)
	})

	return rootCommand
}

// debuggerConfig builds the session defaults from the configuration
// file and the command line.
func debuggerConfig(conf *config.Config, strategy string, columns bool) (debugger.Config, error) {
	parser := resource.DefaultParser
	if conf.CaseInsensitivePaths != nil {
		parser.CaseInsensitive = *conf.CaseInsensitivePaths
	}
	if strategy == "" {
		strategy = conf.BreakOnLoad
	}
	bol, err := breakpoints.ParseStrategy(strategy)
	if err != nil {
		return debugger.Config{}, err
	}
	if conf.ColumnBreakpoints != nil {
		columns = columns && *conf.ColumnBreakpoints
	}
	cacheSize := conf.SourceMapCacheSize
	if cacheSize <= 0 {
		cacheSize = 128
	}
	provider, err := sourcemap.NewCachingProvider(sourcemap.FileAndHTTPLoader{}, parser, cacheSize)
	if err != nil {
		return debugger.Config{}, err
	}
	rules := make(resource.Rules, 0, len(conf.SubstitutePath))
	for _, r := range conf.SubstitutePath {
		rules = append(rules, resource.Rule{From: r.From, To: r.To})
	}
	return debugger.Config{
		Parser:            parser,
		SubstitutePath:    rules,
		SourceMaps:        provider,
		BreakOnLoad:       bol,
		ColumnBreakpoints: columns,
	}, nil
}

func dapCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		if err := logflags.Setup(log, logOutput, logDest); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer logflags.Close()

		if len(args) > 0 {
			fmt.Fprintf(os.Stderr, "Warning: arguments ignored with dap; specify via attach request instead\n")
		}

		dconf, err := debuggerConfig(conf, breakOnLoad, columnBreakpoints)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}

		listener, err := net.Listen("tcp", addr)
		if err != nil {
			fmt.Printf("couldn't start listener: %s\n", err)
			return 1
		}
		disconnectChan := make(chan struct{})
		server := dap.NewServer(&service.Config{
			Listener:       listener,
			DisconnectChan: disconnectChan,
			Debugger:       dconf,
		})
		defer server.Stop()

		server.Run()
		waitForDisconnectSignal(disconnectChan)
		return 0
	}()
	os.Exit(status)
}

// waitForDisconnectSignal is a blocking function that waits for either
// a SIGINT (Ctrl-C) or SIGTERM (kill -15) OS signal or for disconnectChan
// to be closed by the server when the client disconnects.
func waitForDisconnectSignal(disconnectChan chan struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	if runtime.GOOS == "windows" {
		// Ctrl-C sent to the console is delivered to jsdbg too. Ignore it
		// so that only the client ends the session.
		go func() {
			for range ch {
			}
		}()
		<-disconnectChan
		return
	}
	select {
	case <-ch:
	case <-disconnectChan:
	}
}
