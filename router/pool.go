// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package router

import "sync"

// matchSlicePool recycles the scratch slices used during trie matching.
// Publish is the hot path; recycling keeps it allocation-light under load.
var matchSlicePool = sync.Pool{
	New: func() any {
		s := make([]matchResult, 0, 16)
		return &s
	},
}

func acquireMatchSlice() *[]matchResult {
	return matchSlicePool.Get().(*[]matchResult)
}

func releaseMatchSlice(s *[]matchResult) {
	*s = (*s)[:0]
	matchSlicePool.Put(s)
}
