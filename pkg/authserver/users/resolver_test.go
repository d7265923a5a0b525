// Copyright 2025 Stacklok, Inc.
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

package users

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryResolver_AutoProvisionsOnFirstSight(t *testing.T) {
	t.Parallel()
	r := NewInMemoryResolver()

	record, err := r.Resolve(context.Background(), Identity{
		Provider:      "google",
		UpstreamSubID: "sub-1",
		Email:         "alice@example.com",
		Name:          "Alice",
	})
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, int64(1), record.ID)
	assert.Equal(t, "alice@example.com", record.Email)
}

func TestInMemoryResolver_ReturnsStableIDOnRepeatLogin(t *testing.T) {
	t.Parallel()
	r := NewInMemoryResolver()
	identity := Identity{Provider: "google", UpstreamSubID: "sub-1", Email: "alice@example.com"}

	first, err := r.Resolve(context.Background(), identity)
	require.NoError(t, err)

	identity.Name = "Alice Updated"
	second, err := r.Resolve(context.Background(), identity)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Alice Updated", second.Name)
}

func TestInMemoryResolver_DistinctProvidersYieldDistinctUsers(t *testing.T) {
	t.Parallel()
	r := NewInMemoryResolver()

	google, err := r.Resolve(context.Background(), Identity{Provider: "google", UpstreamSubID: "sub-1"})
	require.NoError(t, err)

	microsoft, err := r.Resolve(context.Background(), Identity{Provider: "microsoft", UpstreamSubID: "sub-1"})
	require.NoError(t, err)

	assert.NotEqual(t, google.ID, microsoft.ID)
}

func TestInMemoryResolver_ConcurrentResolveSameIdentity(t *testing.T) {
	t.Parallel()
	r := NewInMemoryResolver()
	identity := Identity{Provider: "google", UpstreamSubID: "sub-1"}

	const workers = 25
	ids := make([]int64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		i := i
		go func() {
			defer wg.Done()
			record, err := r.Resolve(context.Background(), identity)
			require.NoError(t, err)
			ids[i] = record.ID
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}
