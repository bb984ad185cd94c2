// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/mbus/core"
	"github.com/absmach/mbus/storage"
	"github.com/absmach/mbus/topics"
)

func retainedMsg(topic, payload string) *core.Message {
	return &core.Message{Topic: topics.Split(topic), Payload: []byte(payload), Retain: true}
}

func TestRetainedSetGetDelete(t *testing.T) {
	s := NewRetainedStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, retainedMsg("a/b", "one"), "ctx1"))

	got, err := s.Get(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "one", string(got.Message.Payload))
	assert.Equal(t, "ctx1", got.PublisherContext)

	// Latest wins.
	require.NoError(t, s.Set(ctx, retainedMsg("a/b", "two"), "ctx2"))
	got, err = s.Get(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "two", string(got.Message.Payload))

	require.NoError(t, s.Delete(ctx, []string{"a", "b"}))
	_, err = s.Get(ctx, []string{"a", "b"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRetainedEmptyPayloadDeletes(t *testing.T) {
	s := NewRetainedStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, retainedMsg("a", "x"), nil))
	require.NoError(t, s.Set(ctx, &core.Message{Topic: []string{"a"}, Retain: true}, nil))

	_, err := s.Get(ctx, []string{"a"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRetainedMatch(t *testing.T) {
	s := NewRetainedStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, retainedMsg("a/b", "1"), nil))
	require.NoError(t, s.Set(ctx, retainedMsg("a/c", "2"), nil))
	require.NoError(t, s.Set(ctx, retainedMsg("x/y", "3"), nil))

	filter, err := topics.NormalizeFilter([]string{"a", "+"})
	require.NoError(t, err)

	matched, err := s.Match(ctx, filter)
	require.NoError(t, err)
	assert.Len(t, matched, 2)

	all, err := topics.NormalizeFilter([]string{"#"})
	require.NoError(t, err)
	matched, err = s.Match(ctx, all)
	require.NoError(t, err)
	assert.Len(t, matched, 3)
}

func TestRetainedCopiesOnStore(t *testing.T) {
	s := NewRetainedStore()
	ctx := context.Background()

	in := retainedMsg("a", "x")
	require.NoError(t, s.Set(ctx, in, nil))
	in.Payload[0] = '!'

	got, err := s.Get(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, "x", string(got.Message.Payload))
}
