// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"slices"
	"sync"
	"time"
)

// ToolCache holds tool lists per server id until they expire.
type ToolCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]toolCacheEntry
}

type toolCacheEntry struct {
	tools  []ToolDefinition
	expiry time.Time
}

// NewToolCache creates a cache. now may be nil.
func NewToolCache(ttl time.Duration, now func() time.Time) *ToolCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &ToolCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]toolCacheEntry),
	}
}

// Get returns the cached tools for id if the entry has not expired.
func (c *ToolCache) Get(id string) ([]ToolDefinition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	if !e.expiry.After(c.now()) {
		delete(c.entries, id)
		return nil, false
	}
	return slices.Clone(e.tools), true
}

// Put stores tools for id with a fresh expiry.
func (c *ToolCache) Put(id string, tools []ToolDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = toolCacheEntry{
		tools:  slices.Clone(tools),
		expiry: c.now().Add(c.ttl),
	}
}

// Delete drops the entry for id.
func (c *ToolCache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}
