/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ledger

import "sync"

// chainLocks hands out one mutex per chain id. Entries are never removed;
// the number of chains held by a node is small.
type chainLocks struct {
	mutex sync.Mutex
	locks map[string]*sync.Mutex
}

func newChainLocks() *chainLocks {
	return &chainLocks{locks: map[string]*sync.Mutex{}}
}

func (c *chainLocks) lock(chainID string) func() {
	c.mutex.Lock()
	l, ok := c.locks[chainID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[chainID] = l
	}
	c.mutex.Unlock()

	l.Lock()
	return l.Unlock
}
