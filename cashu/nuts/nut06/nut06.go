// Package nut06 contains structs as defined in [NUT-06]
//
// [NUT-06]: https://github.com/cashubtc/nuts/blob/main/06.md
package nut06

import (
	"encoding/json"
	"sort"
	"strconv"
)

type MintInfo struct {
	Name            string        `json:"name"`
	Pubkey          string        `json:"pubkey"`
	Version         string        `json:"version"`
	Description     string        `json:"description"`
	LongDescription string        `json:"description_long,omitempty"`
	Contact         []ContactInfo `json:"contact,omitempty"`
	Motd            string        `json:"motd,omitempty"`
	Nuts            NutsMap       `json:"nuts"`
}

type ContactInfo struct {
	Method string `json:"method"`
	Info   string `json:"info"`
}

// legacyContactInfo is the pre-NUT-06-revision wire shape for a contact
// entry: a two-element [method, info] tuple instead of an object. Some
// mints still on an older build emit this, so UnmarshalJSON accepts both.
type legacyContactInfo [2]string

// UnmarshalJSON accepts both the current contact object array and the
// older [method, info] tuple array some mints still send, falling back to
// an empty contact list rather than failing the whole info response if
// neither shape parses — a mint's info endpoint is advisory, not load
// bearing.
func (mi *MintInfo) UnmarshalJSON(data []byte) error {
	type alias MintInfo
	aux := struct {
		Contact json.RawMessage `json:"contact,omitempty"`
		*alias
	}{alias: (*alias)(mi)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.Contact) == 0 {
		return nil
	}

	var modern []ContactInfo
	if err := json.Unmarshal(aux.Contact, &modern); err == nil {
		mi.Contact = modern
		return nil
	}

	var legacy []legacyContactInfo
	if err := json.Unmarshal(aux.Contact, &legacy); err == nil {
		mi.Contact = make([]ContactInfo, len(legacy))
		for i, c := range legacy {
			mi.Contact[i] = ContactInfo{Method: c[0], Info: c[1]}
		}
	}
	return nil
}

type NutSetting struct {
	Methods  []MethodSetting `json:"methods"`
	Disabled bool            `json:"disabled"`
}

type MethodSetting struct {
	Method    string `json:"method"`
	Unit      string `json:"unit"`
	MinAmount uint64 `json:"min_amount,omitempty"`
	MaxAmount uint64 `json:"max_amount,omitempty"`
}

// NutsMap lists which NUTs a mint supports, keyed by NUT number.
type NutsMap map[int]any

// MarshalJSON writes NUT numbers as string keys in ascending order, since a
// bare map[int]any would marshal as a JSON object with unordered keys and
// int keys aren't valid JSON object keys in the first place.
func (nm NutsMap) MarshalJSON() ([]byte, error) {
	nums := make([]int, 0, len(nm))
	for n := range nm {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	out := []byte{'{'}
	for i, n := range nums {
		if i != 0 {
			out = append(out, ',')
		}
		out = strconv.AppendQuote(out, strconv.Itoa(n))
		out = append(out, ':')

		val, err := json.Marshal(nm[n])
		if err != nil {
			return nil, err
		}
		out = append(out, val...)
	}
	out = append(out, '}')
	return out, nil
}
