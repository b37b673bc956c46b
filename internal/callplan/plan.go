// Package callplan reads YAML files describing a sequence of foreign calls
// and their expected results.
package callplan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/ffcall/internal/callconv"
	"github.com/tinyrange/ffcall/internal/ffi"
)

const CurrentVersion = 1

// Plan is a list of calls into one library.
type Plan struct {
	Version int    `yaml:"version"`
	Library string `yaml:"library"`
	Calls   []Call `yaml:"calls"`
}

// Call is one foreign call. Args are "kind:value" literals; Returns names the
// kind of the result, and Expect, when set, is the literal it must equal.
type Call struct {
	Name       string   `yaml:"name,omitempty"`
	Library    string   `yaml:"library,omitempty"`
	Symbol     string   `yaml:"symbol"`
	Convention string   `yaml:"convention,omitempty"`
	Args       []string `yaml:"args,omitempty"`
	Returns    string   `yaml:"returns,omitempty"`
	Expect     string   `yaml:"expect,omitempty"`
	Repeat     int      `yaml:"repeat,omitempty"`
}

func (p *Plan) normalize() {
	if p.Version == 0 {
		p.Version = CurrentVersion
	}
	for n := range p.Calls {
		c := &p.Calls[n]
		if c.Name == "" {
			c.Name = c.Symbol
		}
		if c.Library == "" {
			c.Library = p.Library
		}
		if c.Repeat == 0 {
			c.Repeat = 1
		}
	}
}

// Validate checks every literal and name without touching any library.
func (p *Plan) Validate() error {
	if p.Version != CurrentVersion {
		return fmt.Errorf("unsupported plan version %d", p.Version)
	}
	if len(p.Calls) == 0 {
		return errors.New("plan has no calls")
	}
	var errs []error
	for n, c := range p.Calls {
		if err := c.validate(); err != nil {
			errs = append(errs, fmt.Errorf("call %d (%s): %w", n, c.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Call) validate() error {
	if c.Symbol == "" {
		return errors.New("missing symbol")
	}
	if c.Library == "" {
		return errors.New("missing library")
	}
	if c.Repeat < 0 {
		return fmt.Errorf("negative repeat %d", c.Repeat)
	}
	if c.Convention != "" {
		if _, err := callconv.ParseConvention(c.Convention); err != nil {
			return err
		}
	}
	if _, err := c.Values(); err != nil {
		return err
	}
	switch {
	case c.Returns == "" || c.Returns == "void":
		if c.Expect != "" {
			return errors.New("expect set on a void call")
		}
	case !IsKind(c.Returns):
		return fmt.Errorf("unknown return kind %q", c.Returns)
	case c.Expect != "":
		if _, err := c.expected(); err != nil {
			return err
		}
	}
	return nil
}

// Values parses Args in order.
func (c *Call) Values() ([]any, error) {
	values := make([]any, 0, len(c.Args))
	for _, arg := range c.Args {
		v, err := ParseValue(arg)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func (c *Call) expected() (string, error) {
	v, err := ParseValue(c.Returns + ":" + c.Expect)
	if err != nil {
		return "", err
	}
	return Format(v), nil
}

// Apply replaces the arguments of iface with the call's values and selects
// its convention when one is named.
func (c *Call) Apply(iface *ffi.Interface) error {
	if c.Convention != "" {
		conv, err := callconv.ParseConvention(c.Convention)
		if err != nil {
			return err
		}
		if err := iface.SetCallingConvention(conv); err != nil {
			return err
		}
	}
	values, err := c.Values()
	if err != nil {
		return err
	}
	if err := iface.ResetArguments(); err != nil {
		return err
	}
	for _, v := range values {
		if err := iface.AddArgument(v); err != nil {
			return err
		}
	}
	return nil
}

// Check compares the formatted result got with Expect. Calls without an
// expectation always pass.
func (c *Call) Check(got string) error {
	if c.Expect == "" {
		return nil
	}
	want, err := c.expected()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%s returned %s, want %s", c.Name, got, want)
	}
	return nil
}

// Parse decodes and validates a plan.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	p.normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Load reads and parses the plan at path.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return p, nil
}

// Write encodes p to path.
func Write(path string, p *Plan) error {
	p.normalize()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return f.Close()
}
