// Package script loads YAML expect scripts and runs them against a session.
//
// A script is a list of steps. Each step sends something to the session,
// waits for a needle, or sleeps:
//
//	target: exec:/bin/sh -i
//	timeout: 5s
//	steps:
//	  - send_line: echo hello
//	  - expect: {literal: hello}
//	  - expect: {any: [{regexp: "\\$ $"}, {prompt: shell}]}
//	    timeout: 2s
//	  - send_control: c
//	  - expect: {eof: true}
//
// send and send_line steps flush the transport before the next step runs.
//
// Needles are compiled when the script is parsed, so a bad pattern or an
// unknown prompt name is reported before anything is sent.
package script

import (
	"fmt"
	"os"
	"regexp"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/timvw/pane-expect/internal/config"
	"github.com/timvw/pane-expect/internal/expect"
	"github.com/timvw/pane-expect/internal/prompts"
)

// Kind identifies what a step does.
type Kind string

const (
	KindSend        Kind = "send"
	KindSendLine    Kind = "send_line"
	KindSendControl Kind = "send_control"
	KindFlush       Kind = "flush"
	KindExpect      Kind = "expect"
	KindSleep       Kind = "sleep"
)

// Script is a parsed, ready-to-run expect script.
type Script struct {
	// Target is the transport target named by the script, if any.
	Target string
	// Timeout is the session timeout requested by the script.
	// Only meaningful when HasTimeout is set.
	Timeout    time.Duration
	HasTimeout bool

	Steps []Step
}

// Step is one compiled script step.
type Step struct {
	Name    string
	Kind    Kind
	Text    string        // send, send_line
	Control rune          // send_control
	Needle  expect.Needle // expect
	Sleep   time.Duration // sleep

	// Timeout bounds this step. Zero leaves the session timeout in charge.
	Timeout time.Duration
}

// String returns the step name, or a short description when unnamed.
func (s Step) String() string {
	if s.Name != "" {
		return s.Name
	}
	switch s.Kind {
	case KindSend, KindSendLine:
		return fmt.Sprintf("%s %q", s.Kind, s.Text)
	case KindSendControl:
		return fmt.Sprintf("send Ctrl+%c", s.Control)
	case KindExpect:
		return "expect " + s.Needle.String()
	case KindSleep:
		return "sleep " + s.Sleep.String()
	default:
		return string(s.Kind)
	}
}

type rawScript struct {
	Target  string    `yaml:"target"`
	Timeout string    `yaml:"timeout"`
	Steps   []rawStep `yaml:"steps"`
}

type rawStep struct {
	Name        string     `yaml:"name"`
	Timeout     string     `yaml:"timeout"`
	Send        *string    `yaml:"send"`
	SendLine    *string    `yaml:"send_line"`
	SendControl *string    `yaml:"send_control"`
	Flush       bool       `yaml:"flush"`
	Expect      *rawNeedle `yaml:"expect"`
	Sleep       string     `yaml:"sleep"`
}

type rawNeedle struct {
	Literal *string     `yaml:"literal"`
	Regexp  *string     `yaml:"regexp"`
	EOF     bool        `yaml:"eof"`
	Bytes   *int        `yaml:"bytes"`
	Any     []rawNeedle `yaml:"any"`
	Prompt  string      `yaml:"prompt"`
}

// UnmarshalYAML accepts a bare string as shorthand for {literal: ...}.
func (n *rawNeedle) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		n.Literal = &s
		return nil
	}
	type plain rawNeedle
	return node.Decode((*plain)(n))
}

// ParseFile reads and parses the script at path.
func ParseFile(path string, reg *prompts.Registry) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	sc, err := Parse(data, reg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Parse decodes a YAML script and compiles every step. Prompt names are
// resolved against reg; a nil reg uses the built-in prompts.
func Parse(data []byte, reg *prompts.Registry) (*Script, error) {
	if reg == nil {
		reg = prompts.NewRegistry()
	}

	var raw rawScript
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	if len(raw.Steps) == 0 {
		return nil, fmt.Errorf("script has no steps")
	}

	sc := &Script{Target: raw.Target}
	if raw.Timeout != "" {
		d, err := config.ParseDurationOrDisable(raw.Timeout, 0)
		if err != nil {
			return nil, fmt.Errorf("invalid script timeout %q: %w", raw.Timeout, err)
		}
		sc.Timeout = d
		sc.HasTimeout = true
	}

	for i, rs := range raw.Steps {
		step, err := compileStep(rs, reg)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		sc.Steps = append(sc.Steps, step)
	}
	return sc, nil
}

func compileStep(rs rawStep, reg *prompts.Registry) (Step, error) {
	step := Step{Name: rs.Name}

	var kinds []Kind
	if rs.Send != nil {
		kinds = append(kinds, KindSend)
	}
	if rs.SendLine != nil {
		kinds = append(kinds, KindSendLine)
	}
	if rs.SendControl != nil {
		kinds = append(kinds, KindSendControl)
	}
	if rs.Flush {
		kinds = append(kinds, KindFlush)
	}
	if rs.Expect != nil {
		kinds = append(kinds, KindExpect)
	}
	if rs.Sleep != "" {
		kinds = append(kinds, KindSleep)
	}
	switch len(kinds) {
	case 0:
		return step, fmt.Errorf("no action (want one of send, send_line, send_control, flush, expect, sleep)")
	case 1:
		step.Kind = kinds[0]
	default:
		return step, fmt.Errorf("more than one action: %v", kinds)
	}

	if rs.Timeout != "" {
		d, err := time.ParseDuration(rs.Timeout)
		if err != nil || d <= 0 {
			return step, fmt.Errorf("invalid timeout %q", rs.Timeout)
		}
		step.Timeout = d
	}

	switch step.Kind {
	case KindSend:
		step.Text = *rs.Send
	case KindSendLine:
		step.Text = *rs.SendLine
	case KindSendControl:
		c, size := utf8.DecodeRuneInString(*rs.SendControl)
		if size == 0 || size != len(*rs.SendControl) {
			return step, fmt.Errorf("send_control wants a single character, got %q", *rs.SendControl)
		}
		if _, err := expect.ControlCode(c); err != nil {
			return step, err
		}
		step.Control = c
	case KindExpect:
		n, err := compileNeedle(*rs.Expect, reg)
		if err != nil {
			return step, err
		}
		step.Needle = n
	case KindSleep:
		d, err := time.ParseDuration(rs.Sleep)
		if err != nil || d < 0 {
			return step, fmt.Errorf("invalid sleep %q", rs.Sleep)
		}
		step.Sleep = d
	}
	return step, nil
}

func compileNeedle(rn rawNeedle, reg *prompts.Registry) (expect.Needle, error) {
	set := 0
	var n expect.Needle
	if rn.Literal != nil {
		set++
		if *rn.Literal == "" {
			return n, fmt.Errorf("empty literal")
		}
		n = expect.Literal(*rn.Literal)
	}
	if rn.Regexp != nil {
		set++
		re, err := regexp.Compile(*rn.Regexp)
		if err != nil {
			return n, fmt.Errorf("invalid pattern %q: %w", *rn.Regexp, err)
		}
		n = expect.Regexp(re)
	}
	if rn.EOF {
		set++
		n = expect.EOF()
	}
	if rn.Bytes != nil {
		set++
		if *rn.Bytes < 0 {
			return n, fmt.Errorf("negative byte count %d", *rn.Bytes)
		}
		n = expect.Bytes(*rn.Bytes)
	}
	if rn.Any != nil {
		set++
		if len(rn.Any) == 0 {
			return n, fmt.Errorf("any: no alternatives")
		}
		members := make([]expect.Needle, 0, len(rn.Any))
		for i, m := range rn.Any {
			mn, err := compileNeedle(m, reg)
			if err != nil {
				return n, fmt.Errorf("any[%d]: %w", i, err)
			}
			members = append(members, mn)
		}
		n = expect.Any(members...)
	}
	if rn.Prompt != "" {
		set++
		pn, ok := reg.Lookup(rn.Prompt)
		if !ok {
			return n, fmt.Errorf("unknown prompt %q (known: %v)", rn.Prompt, reg.Names())
		}
		n = pn
	}

	switch set {
	case 0:
		return n, fmt.Errorf("empty needle (want one of literal, regexp, eof, bytes, any, prompt)")
	case 1:
		return n, nil
	default:
		return n, fmt.Errorf("needle sets more than one form")
	}
}
