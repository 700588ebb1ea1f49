package dsl

import (
	"fmt"

	"github.com/noexlabs/rulesengine/pkg/action"
	"github.com/noexlabs/rulesengine/pkg/condition"
	"github.com/noexlabs/rulesengine/pkg/engine/enginerr"
	"github.com/noexlabs/rulesengine/pkg/value"
)

// ActionSpec is the YAML mirror of action.Action: Type selects which of the
// remaining fields apply, mirroring the eight action kinds in §3.
type ActionSpec struct {
	Type string `yaml:"type" json:"type"`

	// set_fact / delete_fact
	Key   any `yaml:"key"   json:"key"`
	Value any `yaml:"value" json:"value"`

	// emit_event
	Topic any `yaml:"topic" json:"topic"`
	Data  any `yaml:"data"  json:"data"`

	// set_timer / cancel_timer
	Timer *TimerSpec `yaml:"timer" json:"timer"`

	// call_service
	Service string `yaml:"service" json:"service"`
	Method  string `yaml:"method"  json:"method"`
	Args    any    `yaml:"args"    json:"args"`

	// log
	Level   string `yaml:"level"   json:"level"`
	Message any    `yaml:"message" json:"message"`

	// conditional
	Conditions *ConditionSpec `yaml:"conditions" json:"conditions"`
	Then       []ActionSpec   `yaml:"then"       json:"then"`
	Else       []ActionSpec   `yaml:"else"       json:"else"`
}

// TimerSpec is the YAML mirror of a set_timer action's timer fields.
type TimerSpec struct {
	Name          any         `yaml:"name"          json:"name"`
	Duration      any         `yaml:"duration"      json:"duration"` // seconds
	Cron          any         `yaml:"cron"          json:"cron"`
	OnExpireTopic any         `yaml:"onExpireTopic" json:"onExpireTopic"`
	OnExpireData  any         `yaml:"onExpireData"  json:"onExpireData"`
	Repeat        *RepeatSpec `yaml:"repeat"        json:"repeat"`
}

// RepeatSpec is the YAML mirror of action.RepeatSpec.
type RepeatSpec struct {
	Interval any `yaml:"interval" json:"interval"`
	MaxCount any `yaml:"maxCount" json:"maxCount"`
}

// ToAction converts a into an action.Action.
func (a ActionSpec) ToAction() (action.Action, error) {
	switch a.Type {
	case "set_fact":
		return action.SetFact(value.FromAny(a.Key), value.FromAny(a.Value)), nil
	case "delete_fact":
		return action.DeleteFact(value.FromAny(a.Key)), nil
	case "emit_event":
		return action.EmitEvent(value.FromAny(a.Topic), value.FromAny(a.Data)), nil
	case "set_timer":
		if a.Timer == nil {
			return action.Action{}, enginerr.Validationf("set_timer: missing timer block")
		}
		var repeat *action.RepeatSpec
		if a.Timer.Repeat != nil {
			repeat = &action.RepeatSpec{
				Interval: value.FromAny(a.Timer.Repeat.Interval),
				MaxCount: value.FromAny(a.Timer.Repeat.MaxCount),
			}
		}
		return action.SetTimer(
			value.FromAny(a.Timer.Name),
			value.FromAny(a.Timer.Duration),
			value.FromAny(a.Timer.Cron),
			value.FromAny(a.Timer.OnExpireTopic),
			value.FromAny(a.Timer.OnExpireData),
			repeat,
		), nil
	case "cancel_timer":
		if a.Timer == nil {
			return action.Action{}, enginerr.Validationf("cancel_timer: missing timer block")
		}
		return action.CancelTimer(value.FromAny(a.Timer.Name)), nil
	case "call_service":
		return action.CallService(a.Service, a.Method, value.FromAny(a.Args)), nil
	case "log":
		return action.Log(a.Level, value.FromAny(a.Message)), nil
	case "conditional":
		return convertConditional(a)
	default:
		return action.Action{}, enginerr.Validationf("unknown action type %q", a.Type)
	}
}

func convertConditional(a ActionSpec) (action.Action, error) {
	cond := condition.All()
	if a.Conditions != nil {
		c, err := a.Conditions.ToCondition()
		if err != nil {
			return action.Action{}, fmt.Errorf("conditional: conditions: %w", err)
		}
		cond = c
	}
	then, err := convertActions(a.Then)
	if err != nil {
		return action.Action{}, fmt.Errorf("conditional: then: %w", err)
	}
	els, err := convertActions(a.Else)
	if err != nil {
		return action.Action{}, fmt.Errorf("conditional: else: %w", err)
	}
	return action.Conditional(cond, then, els), nil
}

func convertActions(specs []ActionSpec) ([]action.Action, error) {
	out := make([]action.Action, 0, len(specs))
	for i, s := range specs {
		a, err := s.ToAction()
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}
