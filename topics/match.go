// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics

// Binding records what a wildcard in a filter bound to during a match.
// A "+" produces a binding with Pos set to the segment index and Value to
// the matched segment. A trailing "#" produces one final binding with
// Pos = MultiLevelPos and Suffix holding the remaining segments (possibly
// empty).
type Binding struct {
	Pos    int
	Value  string
	Suffix []string
}

// MultiLevelPos marks the binding produced by a "#" wildcard.
const MultiLevelPos = -1

// Bindings is the ordered list of wildcard bindings for one match.
type Bindings []Binding

// Match checks a normalized filter against a concrete topic according to
// MQTT wildcard rules and returns the wildcard bindings:
//   - SingleLevel matches exactly one segment at its position.
//   - MultiLevel matches zero or more trailing segments.
//   - Literal segments match byte-exact.
//
// Topics with a leading '$' segment are matched like any other; system-topic
// policy is the authorizer's business, not the matcher's.
func Match(filter, topic []string) (Bindings, bool) {
	if len(filter) == 0 || len(topic) == 0 {
		return nil, false
	}

	var bindings Bindings
	for i, fseg := range filter {
		if fseg == MultiLevel {
			suffix := make([]string, len(topic)-i)
			copy(suffix, topic[i:])
			bindings = append(bindings, Binding{Pos: MultiLevelPos, Suffix: suffix})
			return bindings, true
		}

		if i >= len(topic) {
			// Filter is longer than the topic and the extra level is
			// not "#": no match ("a/+" does not match "a").
			return nil, false
		}

		switch fseg {
		case SingleLevel:
			bindings = append(bindings, Binding{Pos: i, Value: topic[i]})
		default:
			if fseg != topic[i] {
				return nil, false
			}
		}
	}

	if len(filter) != len(topic) {
		return nil, false
	}
	return bindings, true
}
