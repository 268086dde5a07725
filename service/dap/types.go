package dap

import (
	"encoding/json"
	"errors"
	"fmt"
)

// AttachConfig is the collection of attach request attributes recognized
// by the DAP implementation.
type AttachConfig struct {
	// Required. Websocket debugger URL of the runtime, e.g.
	// ws://127.0.0.1:9229/0f2c936f-b1cd-4ac9-aab3-f63b0f33d55e.
	Address string `json:"address,omitempty"`

	// How breakpoints are set in scripts before they run: "instrument"
	// (default), "regex" or "off".
	BreakOnLoadStrategy string `json:"breakOnLoadStrategy,omitempty"`

	// Runtime version used when the runtime does not report one, e.g.
	// "v16.3.0".
	RuntimeVersion string `json:"runtimeVersion,omitempty"`

	// Maximum depth of stack trace reported to the client.
	// (Default: `50`)
	StackTraceDepth int `json:"stackTraceDepth,omitempty"`

	// An array of mappings from a local path (client) to the remote path
	// or URL prefix (runtime).
	SubstitutePath []SubstitutePath `json:"substitutePath,omitempty"`
}

// SubstitutePath defines a mapping from a local path to the remote path.
// Both 'from' and 'to' must be specified and non-empty.
type SubstitutePath struct {
	// The local path to be replaced when passing paths to the debugger.
	From string `json:"from,omitempty"`
	// The remote path to be replaced when passing paths back to the client.
	To string `json:"to,omitempty"`
}

func (m *SubstitutePath) UnmarshalJSON(data []byte) error {
	// use custom unmarshal to check if both from/to are set.
	type tmpType SubstitutePath
	var tmp tmpType

	if err := json.Unmarshal(data, &tmp); err != nil {
		if _, ok := err.(*json.UnmarshalTypeError); ok {
			return fmt.Errorf(`cannot use %s as 'substitutePath' of type {"from":string, "to":string}`, data)
		}
		return err
	}
	if tmp.From == "" || tmp.To == "" {
		return errors.New("'substitutePath' requires both 'from' and 'to' entries")
	}
	*m = SubstitutePath(tmp)
	return nil
}

// unmarshalAttachArgs wraps unmarshalling of the attach request's
// arguments attribute. Upon unmarshal failure, it returns an error
// massaged to be suitable for end-users.
func unmarshalAttachArgs(input json.RawMessage, config *AttachConfig) error {
	if err := json.Unmarshal(input, config); err != nil {
		if uerr, ok := err.(*json.UnmarshalTypeError); ok {
			// Format json.UnmarshalTypeError error string in our own way. E.g.,
			//   "json: cannot unmarshal number into Go struct field AttachConfig.address of type string"
			//   => "cannot unmarshal number into 'address' of type string"
			typ := uerr.Type.String()
			if uerr.Field == "substitutePath" {
				typ = `{"from":string, "to":string}`
			}
			return fmt.Errorf("cannot unmarshal %v into %q of type %v", uerr.Value, uerr.Field, typ)
		}
		return err
	}
	return nil
}
