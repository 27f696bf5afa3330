package models

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Phase is a named group of commands executed as a unit within a cell.
type Phase string

const (
	PhaseBeforeInstall Phase = "before_install"
	PhaseInstall       Phase = "install"
	PhaseScript        Phase = "script"
	PhaseAfterSuccess  Phase = "after_success"
)

// Phases lists every phase in execution order.
var Phases = []Phase{PhaseBeforeInstall, PhaseInstall, PhaseScript, PhaseAfterSuccess}

// Gating reports whether a failure in the phase fails the cell.
func (p Phase) Gating() bool {
	return p != PhaseAfterSuccess
}

// StringList accepts either a single scalar or a sequence of scalars.
type StringList []string

func (s *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			*s = nil
			return nil
		}
		*s = StringList{value.Value}
		return nil
	case yaml.SequenceNode:
		list := make(StringList, 0, len(value.Content))
		for _, n := range value.Content {
			if n.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: expected a string, got a %s", n.Line, kindName(n.Kind))
			}
			list = append(list, n.Value)
		}
		*s = list
		return nil
	}
	return fmt.Errorf("line %d: expected a string or a list of strings", value.Line)
}

// Notify values for on_success and on_failure.
const (
	NotifyAlways = "always"
	NotifyNever  = "never"
	NotifyChange = "change"
)

// EmailSetting is either a plain boolean or a mapping with recipients.
type EmailSetting struct {
	Enabled    bool
	Recipients StringList
	OnSuccess  string
	OnFailure  string
}

type emailMapping struct {
	Enabled    *bool      `yaml:"enabled"`
	Recipients StringList `yaml:"recipients"`
	OnSuccess  string     `yaml:"on_success"`
	OnFailure  string     `yaml:"on_failure"`
}

func (e *EmailSetting) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var enabled bool
		if err := value.Decode(&enabled); err != nil {
			return fmt.Errorf("line %d: email must be a boolean or a mapping", value.Line)
		}
		*e = EmailSetting{Enabled: enabled}
		return nil
	case yaml.MappingNode:
		var m emailMapping
		if err := value.Decode(&m); err != nil {
			return err
		}
		*e = EmailSetting{
			Enabled:    m.Enabled == nil || *m.Enabled,
			Recipients: m.Recipients,
			OnSuccess:  m.OnSuccess,
			OnFailure:  m.OnFailure,
		}
		return nil
	}
	return fmt.Errorf("line %d: email must be a boolean or a mapping", value.Line)
}

// Notifications holds the notification settings of a pipeline file.
type Notifications struct {
	Email EmailSetting `yaml:"email"`
}

// PipelineFile is a Travis style pipeline definition.
type PipelineFile struct {
	Language      string        `yaml:"language" validate:"required"`
	Python        StringList    `yaml:"python" validate:"required,min=1,unique,dive,interpreter"`
	Env           StringList    `yaml:"env" validate:"dive,envvar"`
	Notifications Notifications `yaml:"notifications"`
	BeforeInstall StringList    `yaml:"before_install" validate:"dive,nonblank"`
	Install       StringList    `yaml:"install" validate:"dive,nonblank"`
	Script        StringList    `yaml:"script" validate:"required,min=1,dive,nonblank"`
	AfterSuccess  StringList    `yaml:"after_success" validate:"dive,nonblank"`
}

// Commands returns the commands declared for a phase, in declared order.
func (p *PipelineFile) Commands(phase Phase) []string {
	switch phase {
	case PhaseBeforeInstall:
		return p.BeforeInstall
	case PhaseInstall:
		return p.Install
	case PhaseScript:
		return p.Script
	case PhaseAfterSuccess:
		return p.AfterSuccess
	}
	return nil
}

// Cell is one matrix entry, parameterized by a single interpreter version.
type Cell struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Language string `json:"language"`
	Version  string `json:"version"`
}

func (c Cell) String() string {
	return c.Language + " " + c.Version
}

// Variable is a single KEY=VALUE environment entry.
type Variable struct {
	Key   string
	Value string
}

// ParseVariable splits a KEY=VALUE string. The value may contain '='.
func ParseVariable(s string) (Variable, error) {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return Variable{}, fmt.Errorf("variables should be defined as KEY=VALUE: %s", s)
	}
	return Variable{Key: k, Value: v}, nil
}

func (v Variable) String() string {
	return v.Key + "=" + v.Value
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "list"
	case yaml.AliasNode:
		return "alias"
	}
	return "value"
}
