// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package router

import "github.com/absmach/mbus/topics"

// node is one level of the matching trie. Wildcards get explicit child
// slots so literal segments spelled "+" or "#" (already rewritten to
// sentinels by normalization) can never collide with them.
type node struct {
	children map[string]*node
	plus     *node
	hash     *node
	dests    []*destination
}

func newNode() *node {
	return &node{
		children: make(map[string]*node),
	}
}

// insert walks the normalized filter and appends the destination at the
// leaf. A "#" segment is terminal by construction.
func (n *node) insert(filter []string, idx int, dest *destination) {
	if idx == len(filter) {
		n.dests = append(n.dests, dest)
		return
	}

	var child *node
	switch filter[idx] {
	case topics.SingleLevel:
		if n.plus == nil {
			n.plus = newNode()
		}
		child = n.plus
	case topics.MultiLevel:
		if n.hash == nil {
			n.hash = newNode()
		}
		child = n.hash
	default:
		c, ok := n.children[filter[idx]]
		if !ok {
			c = newNode()
			n.children[filter[idx]] = c
		}
		child = c
	}
	child.insert(filter, idx+1, dest)
}

// remove deletes one destination at the filter's leaf. Empty interior nodes
// are left in place; the trie is small relative to churn and pruning would
// complicate the write path.
func (n *node) remove(filter []string, idx int, dest *destination) {
	if idx == len(filter) {
		for i, d := range n.dests {
			if d == dest {
				n.dests = append(n.dests[:i], n.dests[i+1:]...)
				return
			}
		}
		return
	}

	var child *node
	switch filter[idx] {
	case topics.SingleLevel:
		child = n.plus
	case topics.MultiLevel:
		child = n.hash
	default:
		child = n.children[filter[idx]]
	}
	if child == nil {
		return
	}
	child.remove(filter, idx+1, dest)
}

// matchResult pairs a matched destination with the wildcard bindings of the
// path that reached it.
type matchResult struct {
	dest     *destination
	bindings topics.Bindings
}

// match collects every destination whose filter matches the topic, recording
// what each wildcard bound to along the way.
func (n *node) match(topic []string, idx int, bindings topics.Bindings, out *[]matchResult) {
	if idx == len(topic) {
		for _, d := range n.dests {
			*out = append(*out, matchResult{dest: d, bindings: bindings})
		}
		// "a/#" also matches "a" with an empty suffix.
		if n.hash != nil {
			b := appendBinding(bindings, topics.Binding{Pos: topics.MultiLevelPos, Suffix: []string{}})
			for _, d := range n.hash.dests {
				*out = append(*out, matchResult{dest: d, bindings: b})
			}
		}
		return
	}

	seg := topic[idx]

	if child, ok := n.children[seg]; ok {
		child.match(topic, idx+1, bindings, out)
	}

	if n.plus != nil {
		b := appendBinding(bindings, topics.Binding{Pos: idx, Value: seg})
		n.plus.match(topic, idx+1, b, out)
	}

	if n.hash != nil {
		suffix := make([]string, len(topic)-idx)
		copy(suffix, topic[idx:])
		b := appendBinding(bindings, topics.Binding{Pos: topics.MultiLevelPos, Suffix: suffix})
		for _, d := range n.hash.dests {
			*out = append(*out, matchResult{dest: d, bindings: b})
		}
	}
}

// appendBinding appends without aliasing the caller's backing array, so
// sibling branches of the recursion cannot clobber each other's bindings.
func appendBinding(b topics.Bindings, add topics.Binding) topics.Bindings {
	out := make(topics.Bindings, len(b), len(b)+1)
	copy(out, b)
	return append(out, add)
}
