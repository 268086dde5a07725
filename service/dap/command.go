package dap

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/go-delve/jsdebug/pkg/config"
)

// replPrefix introduces adapter commands typed in the client's debug
// console.
const replPrefix = "jsdbg "

func (s *Server) adapterCmd(cmdstr string) (string, error) {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	for _, cmd := range adapterCommands(s) {
		for _, alias := range cmd.aliases {
			if alias == cmdname {
				return cmd.cmdFn(args)
			}
		}
	}
	return "", errNoCmd
}

type cmdfunc func(args string) (string, error)

type command struct {
	aliases []string
	helpMsg string
	cmdFn   cmdfunc
}

const (
	msgHelp = `Prints the help message.

help [command]

Type "help" followed by the name of a command for more information about it.`

	msgConfig = `Changes configuration parameters.

	config -list

	Show all configuration parameters.

	config -list <parameter>

	Show value of a configuration parameter.

	config <parameter> <value>

	Changes the value of a configuration parameter.`

	msgSources = `Lists loaded sources whose path or URL ends with the given suffix.

	sources [suffix]`
)

// adapterCommands returns a list of commands with default commands defined.
func adapterCommands(s *Server) []command {
	return []command{
		{aliases: []string{"help", "h"}, cmdFn: s.helpMessage, helpMsg: msgHelp},
		{aliases: []string{"config"}, cmdFn: s.evaluateConfig, helpMsg: msgConfig},
		{aliases: []string{"sources"}, cmdFn: s.listSources, helpMsg: msgSources},
	}
}

var errNoCmd = errors.New("command not available")

func (s *Server) helpMessage(args string) (string, error) {
	var buf bytes.Buffer
	if args != "" {
		for _, cmd := range adapterCommands(s) {
			for _, alias := range cmd.aliases {
				if alias == args {
					return cmd.helpMsg, nil
				}
			}
		}
		return "", errNoCmd
	}

	fmt.Fprintln(&buf, "The following commands are available:")

	for _, cmd := range adapterCommands(s) {
		h := cmd.helpMsg
		if idx := strings.Index(h, "\n"); idx >= 0 {
			h = h[:idx]
		}
		if len(cmd.aliases) > 1 {
			fmt.Fprintf(&buf, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
		} else {
			fmt.Fprintf(&buf, "    %s \t %s\n", cmd.aliases[0], h)
		}
	}

	fmt.Fprintln(&buf)
	fmt.Fprintln(&buf, "Type help followed by a command for full documentation.")
	return buf.String(), nil
}

func (s *Server) evaluateConfig(expr string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	argv := config.Split2PartsBySpace(expr)
	if argv[0] == "-list" {
		if len(argv) > 1 {
			return config.ConfigureListByName(&s.args, argv[1], "cfgName"), nil
		}
		return listConfig(&s.args), nil
	}
	return configureSet(&s.args, expr)
}

func (s *Server) listSources(suffix string) (string, error) {
	d := s.session()
	if d == nil {
		return "", errors.New("debugger is not attached")
	}
	var buf bytes.Buffer
	reg := d.Scripts()
	if suffix != "" {
		for _, canonical := range reg.FindBySuffix(suffix) {
			fmt.Fprintln(&buf, canonical)
		}
		return buf.String(), nil
	}
	for _, src := range d.LoadedSources() {
		fmt.Fprintf(&buf, "%s\t%s\n", src.Identifier, src.Role)
	}
	return buf.String(), nil
}
