// Package nut07 contains structs as defined in [NUT-07]
//
// [NUT-07]: https://github.com/cashubtc/nuts/blob/main/07.md
package nut07

import (
	"encoding/json"
	"fmt"
)

type State int

const (
	Unspent State = iota
	Pending
	Spent
	Unknown
)

var stateNames = map[State]string{
	Unspent: "UNSPENT",
	Pending: "PENDING",
	Spent:   "SPENT",
}

func (state State) String() string {
	if name, ok := stateNames[state]; ok {
		return name
	}
	return "unknown"
}

// StringToState reverses State.String, returning Unknown for anything that
// isn't one of the three wire values a mint reports.
func StringToState(s string) State {
	for state, name := range stateNames {
		if name == s {
			return state
		}
	}
	return Unknown
}

type PostCheckStateRequest struct {
	Ys []string `json:"Ys"`
}

type PostCheckStateResponse struct {
	States []ProofState `json:"states"`
}

type ProofState struct {
	Y       string `json:"Y"`
	State   State  `json:"state"`
	Witness string `json:"witness"`
}

func (ps *ProofState) UnmarshalJSON(data []byte) error {
	var wire struct {
		Y       string `json:"Y"`
		State   string `json:"state"`
		Witness string `json:"witness"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	state := StringToState(wire.State)
	if state == Unknown {
		return fmt.Errorf("nut07: invalid proof state %q", wire.State)
	}

	ps.Y = wire.Y
	ps.State = state
	ps.Witness = wire.Witness
	return nil
}
