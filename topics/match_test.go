// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/mbus/topics"
)

func normalize(t *testing.T, filter ...string) []string {
	t.Helper()
	n, err := topics.NormalizeFilter(filter)
	require.NoError(t, err)
	return n
}

func TestMatch(t *testing.T) {
	tests := []struct {
		filter []string
		topic  []string
		want   bool
	}{
		{[]string{"foo", "bar"}, []string{"foo", "bar"}, true},
		{[]string{"foo", "+"}, []string{"foo", "bar"}, true},
		{[]string{"foo", "+"}, []string{"foo", "baz"}, true},
		{[]string{"foo", "+"}, []string{"foo"}, false},
		{[]string{"foo", "+"}, []string{"foo", "bar", "baz"}, false},
		{[]string{"foo", "#"}, []string{"foo", "bar", "baz"}, true},
		{[]string{"foo", "#"}, []string{"foo"}, true},
		{[]string{"#"}, []string{"foo", "bar"}, true},
		{[]string{"#"}, []string{"anything"}, true},
		{[]string{"+", "+"}, []string{"foo", "bar"}, true},
		{[]string{"+", "+"}, []string{"foo", "bar", "baz"}, false},
		{[]string{"foo", "bar"}, []string{"foo", "baz"}, false},
		{[]string{"sensors", "+", "temp"}, []string{"sensors", "42", "temp"}, true},
		{[]string{"sensors", "+", "temp"}, []string{"sensors", "42", "hum"}, false},
	}

	for _, tt := range tests {
		_, got := topics.Match(normalize(t, tt.filter...), tt.topic)
		assert.Equal(t, tt.want, got, "Match(%v, %v)", tt.filter, tt.topic)
	}
}

func TestMatchBindings(t *testing.T) {
	bindings, ok := topics.Match(normalize(t, "sensors", "+", "temp"), []string{"sensors", "42", "temp"})
	require.True(t, ok)
	require.Len(t, bindings, 1)
	assert.Equal(t, 1, bindings[0].Pos)
	assert.Equal(t, "42", bindings[0].Value)

	bindings, ok = topics.Match(normalize(t, "a", "#"), []string{"a", "b", "c"})
	require.True(t, ok)
	require.Len(t, bindings, 1)
	assert.Equal(t, topics.MultiLevelPos, bindings[0].Pos)
	assert.Equal(t, []string{"b", "c"}, bindings[0].Suffix)

	// "#" matches the parent level with an empty suffix.
	bindings, ok = topics.Match(normalize(t, "a", "#"), []string{"a"})
	require.True(t, ok)
	require.Len(t, bindings, 1)
	assert.Empty(t, bindings[0].Suffix)

	// Mixed wildcards bind in filter order.
	bindings, ok = topics.Match(normalize(t, "+", "b", "#"), []string{"a", "b", "c", "d"})
	require.True(t, ok)
	require.Len(t, bindings, 2)
	assert.Equal(t, "a", bindings[0].Value)
	assert.Equal(t, []string{"c", "d"}, bindings[1].Suffix)
}

func TestMatchLiteralWildcardSegments(t *testing.T) {
	// A topic segment spelled "+" is a literal after normalization and must
	// not be treated as a wildcard.
	filter := normalize(t, "a", "b")
	_, ok := topics.Match(filter, []string{"a", "+"})
	assert.False(t, ok)
}
