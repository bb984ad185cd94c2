// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

import "github.com/google/uuid"

// NewID generates a unique identifier for clients, owners, and pools.
func NewID() string {
	return uuid.NewString()
}
