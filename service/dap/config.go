package dap

import (
	"bytes"
	"fmt"

	"github.com/go-delve/jsdebug/pkg/config"
)

func listConfig(args *attachArgs) string {
	var buf bytes.Buffer
	config.ConfigureList(&buf, args, "cfgName")
	return buf.String()
}

func configureSet(sargs *attachArgs, args string) (string, error) {
	v := config.Split2PartsBySpace(args)

	cfgname := v[0]
	var rest string
	if len(v) == 2 {
		rest = v[1]
	}

	field := config.ConfigureFindFieldByName(sargs, cfgname, "cfgName")
	if !field.IsValid() || !field.CanAddr() {
		return "", fmt.Errorf("%q is not a configuration parameter", cfgname)
	}

	// If there were no arguments provided, just list the value.
	if len(v) == 1 {
		return config.ConfigureListByName(sargs, cfgname, "cfgName"), nil
	}

	if cfgname == "substitutePath" {
		return "", fmt.Errorf("%q can only be set in the attach configuration", cfgname)
	}

	if err := config.ConfigureSetSimple(rest, cfgname, field); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s\nUpdated", config.ConfigureListByName(sargs, cfgname, "cfgName")), nil
}
