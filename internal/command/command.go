// Package command maps the closed set of operator commands onto best-effort
// calls to the mapping core's services.
package command

import (
	"fmt"
	"strings"
)

// Kind identifies a command.
type Kind int

const (
	Reset Kind = iota
	Pause
	Resume
	TriggerNewMap
	PublishMap
	SetGoal
	CancelGoal
	SetLabel
	ResetOdometry
	UpdateParameters
)

var kindNames = map[Kind]string{
	Reset:            "reset",
	Pause:            "pause",
	Resume:           "resume",
	TriggerNewMap:    "trigger_new_map",
	PublishMap:       "publish_map",
	SetGoal:          "set_goal",
	CancelGoal:       "cancel_goal",
	SetLabel:         "set_label",
	ResetOdometry:    "reset_odom",
	UpdateParameters: "update_parameters",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(name, s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown command %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("unknown command kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Command is one operator request. Only the fields relevant to Kind are read.
type Command struct {
	ID   string `json:"id,omitempty"`
	Kind Kind   `json:"kind"`

	// PublishMap
	Global    bool `json:"global,omitempty"`
	Optimized bool `json:"optimized,omitempty"`
	GraphOnly bool `json:"graph_only,omitempty"`

	// SetGoal, SetLabel
	NodeID int    `json:"node_id,omitempty"`
	Label  string `json:"node_label,omitempty"`

	// UpdateParameters
	Parameters map[string]string `json:"parameters,omitempty"`
}
