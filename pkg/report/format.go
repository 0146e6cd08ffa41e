// Copyright © 2018 One Concern

// Package report renders the outcome of runs and the inventory of destinations for a terminal.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/oneconcern/snapback/pkg/errors"
	"gopkg.in/yaml.v2"
)

// ErrUnknownFormat is returned when no formatter is registered under a name
var ErrUnknownFormat = errors.New("unknown output format")

// Formatter writes some data to an output
type Formatter interface {
	Format(io.Writer, interface{}) error
}

// FormatterFunc is a function acting as a Formatter
type FormatterFunc func(io.Writer, interface{}) error

// Format implements Formatter
func (f FormatterFunc) Format(w io.Writer, data interface{}) error {
	return f(w, data)
}

// JSON renders data as indented json
var JSON = FormatterFunc(func(w io.Writer, data interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
})

// YAML renders data as yaml
var YAML = FormatterFunc(func(w io.Writer, data interface{}) error {
	b, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
})

// Formats resolves formatters by name
type Formats map[string]Formatter

// NewFormats registers the json and yaml formatters, along with a default human readable one
func NewFormats(table Formatter) Formats {
	return Formats{
		"table": table,
		"json":  JSON,
		"yaml":  YAML,
	}
}

// Names of the registered formats, sorted
func (f Formats) Names() []string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Get a formatter by name
func (f Formats) Get(name string) (Formatter, error) {
	fm, ok := f[name]
	if !ok {
		return nil, ErrUnknownFormat.Wrapf("%q, expected one of %v", name, f.Names())
	}
	return fm, nil
}

// Write data with the named formatter
func (f Formats) Write(w io.Writer, name string, data interface{}) error {
	fm, err := f.Get(name)
	if err != nil {
		return err
	}
	if err = fm.Format(w, data); err != nil {
		return fmt.Errorf("formatting output as %s: %w", name, err)
	}
	return nil
}
