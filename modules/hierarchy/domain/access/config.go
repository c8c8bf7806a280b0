package access

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidConfig           = errors.New("invalid role config")
	ErrMissingInheritanceRules = errors.New("hierarchical role requires inheritance rules")
	ErrMissingConditions       = errors.New("conditional role requires conditions")
)

// Kind tags the role config variant.
type Kind string

const (
	KindStatic       Kind = "static"
	KindHierarchical Kind = "hierarchical"
	KindConditional  Kind = "conditional"
	KindTemporal     Kind = "temporal"
	KindContextual   Kind = "contextual"
)

// Config is the closed set of role configurations.
type Config interface {
	Kind() Kind
	Validate() error
	isConfig()
}

type StaticConfig struct{}

func (StaticConfig) Kind() Kind      { return KindStatic }
func (StaticConfig) Validate() error { return nil }
func (StaticConfig) isConfig()       {}

type InheritanceDirection string

const (
	InheritDown InheritanceDirection = "down"
	InheritUp   InheritanceDirection = "up"
)

// InheritanceRule propagates a node-bound role along the tree.
// MaxLevels of zero means unbounded.
type InheritanceRule struct {
	Direction InheritanceDirection `json:"direction"`
	MaxLevels int                  `json:"max_levels,omitempty"`
	NodeTypes []string             `json:"node_types,omitempty"`
}

type HierarchicalConfig struct {
	InheritanceRules []InheritanceRule `json:"inheritance_rules"`
}

func (HierarchicalConfig) Kind() Kind { return KindHierarchical }
func (HierarchicalConfig) isConfig()  {}

func (c HierarchicalConfig) Validate() error {
	if len(c.InheritanceRules) == 0 {
		return ErrMissingInheritanceRules
	}
	for i, r := range c.InheritanceRules {
		if r.Direction != InheritDown && r.Direction != InheritUp {
			return fmt.Errorf("%w: inheritance_rules[%d].direction %q", ErrInvalidConfig, i, r.Direction)
		}
		if r.MaxLevels < 0 {
			return fmt.Errorf("%w: inheritance_rules[%d].max_levels must be >= 0", ErrInvalidConfig, i)
		}
	}
	return nil
}

type ConditionOperator string

const (
	OpEquals    ConditionOperator = "eq"
	OpNotEquals ConditionOperator = "neq"
	OpIn        ConditionOperator = "in"
	OpNotIn     ConditionOperator = "not_in"
	OpGreater   ConditionOperator = "gt"
	OpLess      ConditionOperator = "lt"
	OpContains  ConditionOperator = "contains"
)

func (o ConditionOperator) Valid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpIn, OpNotIn, OpGreater, OpLess, OpContains:
		return true
	}
	return false
}

type Condition struct {
	Attribute string            `json:"attribute"`
	Operator  ConditionOperator `json:"operator"`
	Value     any               `json:"value"`
}

type ConditionalConfig struct {
	Conditions []Condition `json:"conditions"`
}

func (ConditionalConfig) Kind() Kind { return KindConditional }
func (ConditionalConfig) isConfig()  {}

func (c ConditionalConfig) Validate() error {
	if len(c.Conditions) == 0 {
		return ErrMissingConditions
	}
	for i, cond := range c.Conditions {
		if strings.TrimSpace(cond.Attribute) == "" {
			return fmt.Errorf("%w: conditions[%d].attribute is required", ErrInvalidConfig, i)
		}
		if !cond.Operator.Valid() {
			return fmt.Errorf("%w: conditions[%d].operator %q", ErrInvalidConfig, i, cond.Operator)
		}
	}
	return nil
}

type TemporalConfig struct {
	ValidFrom *time.Time `json:"valid_from,omitempty"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`
}

func (TemporalConfig) Kind() Kind { return KindTemporal }
func (TemporalConfig) isConfig()  {}

func (c TemporalConfig) Validate() error {
	if c.ValidFrom == nil && c.ValidTo == nil {
		return fmt.Errorf("%w: temporal role requires valid_from or valid_to", ErrInvalidConfig)
	}
	if c.ValidFrom != nil && c.ValidTo != nil && !c.ValidFrom.Before(*c.ValidTo) {
		return fmt.Errorf("%w: valid_from must be before valid_to", ErrInvalidConfig)
	}
	return nil
}

type ContextualConfig struct {
	ContextKeys []string `json:"context_keys"`
}

func (ContextualConfig) Kind() Kind { return KindContextual }
func (ContextualConfig) isConfig()  {}

func (c ContextualConfig) Validate() error {
	if len(c.ContextKeys) == 0 {
		return fmt.Errorf("%w: contextual role requires context_keys", ErrInvalidConfig)
	}
	for i, k := range c.ContextKeys {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: context_keys[%d] is blank", ErrInvalidConfig, i)
		}
	}
	return nil
}

// MarshalConfig encodes cfg with its "type" tag.
func MarshalConfig(cfg Config) (json.RawMessage, error) {
	if cfg == nil {
		cfg = StaticConfig{}
	}
	body, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	tag, err := json.Marshal(cfg.Kind())
	if err != nil {
		return nil, err
	}
	fields["type"] = tag
	return json.Marshal(fields)
}

// UnmarshalConfig decodes and validates a tagged config. Empty input is a static config.
func UnmarshalConfig(raw []byte) (Config, error) {
	cfg, err := DecodeConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DecodeConfig decodes a tagged config without validating its fields, so
// stored rows can still be loaded and reported on.
func DecodeConfig(raw []byte) (Config, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return StaticConfig{}, nil
	}

	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(trimmed, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	var cfg Config
	switch head.Type {
	case KindStatic, "":
		return StaticConfig{}, nil
	case KindHierarchical:
		var c HierarchicalConfig
		if err := json.Unmarshal(trimmed, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		cfg = c
	case KindConditional:
		var c ConditionalConfig
		if err := json.Unmarshal(trimmed, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		cfg = c
	case KindTemporal:
		var c TemporalConfig
		if err := json.Unmarshal(trimmed, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		cfg = c
	case KindContextual:
		var c ContextualConfig
		if err := json.Unmarshal(trimmed, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		cfg = c
	default:
		return nil, fmt.Errorf("%w: unknown role type %q", ErrInvalidConfig, head.Type)
	}
	return cfg, nil
}
