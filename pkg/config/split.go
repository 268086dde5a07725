package config

import (
	"bytes"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"unicode"
	"unsafe"
)

// Like strings.Fields but ignores spaces inside areas surrounded
// by the specified quote character.
// To specify a single quote use backslash to escape it: '\''
func SplitQuotedFields(in string, quote rune) []string {
	type stateEnum int
	const (
		inSpace stateEnum = iota
		inField
		inQuote
		inQuoteEscaped
	)
	state := inSpace
	r := []string{}
	var buf bytes.Buffer
	// started is set once a field began, so that "" yields an empty field.
	started := false

	for _, ch := range in {
		switch state {
		case inSpace:
			if ch == quote {
				state = inQuote
				started = true
			} else if !unicode.IsSpace(ch) {
				buf.WriteRune(ch)
				state = inField
				started = true
			}

		case inField:
			if ch == quote {
				state = inQuote
			} else if unicode.IsSpace(ch) {
				r = append(r, buf.String())
				buf.Reset()
				started = false
				state = inSpace
			} else {
				buf.WriteRune(ch)
			}

		case inQuote:
			if ch == quote {
				state = inField
			} else if ch == '\\' {
				state = inQuoteEscaped
			} else {
				buf.WriteRune(ch)
			}

		case inQuoteEscaped:
			buf.WriteRune(ch)
			state = inQuote
		}
	}

	if started {
		r = append(r, buf.String())
	}

	return r
}

// Split2PartsBySpace splits s at its first run of spaces.
func Split2PartsBySpace(s string) []string {
	v := strings.SplitN(strings.TrimSpace(s), " ", 2)
	for i := range v {
		v[i] = strings.TrimSpace(v[i])
	}
	return v
}

type configureIterator struct {
	cfgValue reflect.Value
	cfgType  reflect.Type
	i        int
	tag      string
}

// IterateConfiguration walks the fields of the struct pointed to by conf.
func IterateConfiguration(conf interface{}, tag string) *configureIterator {
	cfgValue := reflect.ValueOf(conf).Elem()
	return &configureIterator{cfgValue: cfgValue, cfgType: cfgValue.Type(), i: -1, tag: tag}
}

func (it *configureIterator) Next() bool {
	it.i++
	return it.i < it.cfgValue.NumField()
}

// Field returns the configuration name and the value of the current
// field. Fields without the tag have an empty name.
func (it *configureIterator) Field() (name string, field reflect.Value) {
	name = it.cfgType.Field(it.i).Tag.Get(it.tag)
	if comma := strings.Index(name, ","); comma >= 0 {
		name = name[:comma]
	}
	field = it.cfgValue.Field(it.i)
	return
}

// ConfigureList writes every tagged field of conf to w, one per line.
func ConfigureList(w io.Writer, conf interface{}, tag string) {
	it := IterateConfiguration(conf, tag)
	for it.Next() {
		fieldName, field := it.Field()
		if fieldName == "" {
			continue
		}
		writeField(w, fieldName, field)
	}
}

// ConfigureListByName returns the line ConfigureList would write for the
// field called cfgname, or the empty string if there is none.
func ConfigureListByName(conf interface{}, cfgname, tag string) string {
	if cfgname == "" {
		return ""
	}
	it := IterateConfiguration(conf, tag)
	for it.Next() {
		fieldName, field := it.Field()
		if fieldName == cfgname {
			var buf bytes.Buffer
			writeField(&buf, fieldName, field)
			return buf.String()
		}
	}
	return ""
}

// ConfigureFindFieldByName returns the field called name, or the zero
// Value.
func ConfigureFindFieldByName(conf interface{}, name, tag string) reflect.Value {
	it := IterateConfiguration(conf, tag)
	for it.Next() {
		fieldName, field := it.Field()
		if fieldName == name {
			return field
		}
	}
	return reflect.Value{}
}

func writeField(w io.Writer, fieldName string, field reflect.Value) {
	switch field.Kind() {
	case reflect.Ptr:
		if field.IsNil() {
			fmt.Fprintf(w, "%s\t<not defined>\n", fieldName)
		} else {
			fmt.Fprintf(w, "%s\t%v\n", fieldName, field.Elem())
		}
	case reflect.String:
		fmt.Fprintf(w, "%s\t%q\n", fieldName, field)
	default:
		fmt.Fprintf(w, "%s\t%v\n", fieldName, field)
	}
}

// ConfigureSetSimple parses rest and stores it in field. Only ints, bools
// and strings can be set this way.
func ConfigureSetSimple(rest string, cfgname string, field reflect.Value) error {
	// Configuration structs keep their fields unexported.
	field = reflect.NewAt(field.Type(), unsafe.Pointer(field.UnsafeAddr())).Elem()
	switch field.Kind() {
	case reflect.Int:
		n, err := strconv.Atoi(rest)
		if err != nil {
			return fmt.Errorf("argument to %q must be a number", cfgname)
		}
		if n < 0 {
			return fmt.Errorf("argument to %q must be a number greater than zero", cfgname)
		}
		field.SetInt(int64(n))
	case reflect.Bool:
		if rest != "true" && rest != "false" {
			return fmt.Errorf("argument to %q must be true or false", cfgname)
		}
		field.SetBool(rest == "true")
	case reflect.String:
		v := SplitQuotedFields(rest, '"')
		if len(v) != 1 {
			return fmt.Errorf("argument to %q must be a single string", cfgname)
		}
		field.SetString(v[0])
	default:
		return fmt.Errorf("cannot set %q", cfgname)
	}
	return nil
}
