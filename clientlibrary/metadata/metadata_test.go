/*
 * Copyright (c) 2019 VMware, Inc.
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy of this software and
 * associated documentation files (the "Software"), to deal in the Software without restriction, including
 * without limitation the rights to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is furnished to do
 * so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all copies or substantial
 * portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT
 * NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
 * IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY,
 * WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE
 * SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 */
package metadata

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spring-operator/spring-integration-aws/clientlibrary/utils"
)

var _ ConcurrentMetadataStore = (*SimpleMetadataStore)(nil)

// verifyConcurrentMetadataStore runs the behaviour every backend must share.
func verifyConcurrentMetadataStore(t *testing.T, store ConcurrentMetadataStore) {
	ctx := context.Background()

	t.Run("GetAbsent", func(t *testing.T) {
		value, err := store.Get(ctx, utils.MustNewUUID())
		require.NoError(t, err)
		assert.Equal(t, "", value)
	})

	t.Run("PutIfAbsent", func(t *testing.T) {
		key := utils.MustNewUUID()
		prev, err := store.PutIfAbsent(ctx, key, "v1")
		require.NoError(t, err)
		assert.Equal(t, "", prev)

		prev, err = store.PutIfAbsent(ctx, key, "v2")
		require.NoError(t, err)
		assert.Equal(t, "v1", prev)

		value, _ := store.Get(ctx, key)
		assert.Equal(t, "v1", value)
	})

	t.Run("Replace", func(t *testing.T) {
		key := utils.MustNewUUID()
		require.NoError(t, store.Put(ctx, key, "5"))

		replaced, err := store.Replace(ctx, key, "5", "10")
		require.NoError(t, err)
		assert.True(t, replaced)

		replaced, err = store.Replace(ctx, key, "5", "7")
		require.NoError(t, err)
		assert.False(t, replaced)

		value, _ := store.Get(ctx, key)
		assert.Equal(t, "10", value)

		replaced, err = store.Replace(ctx, utils.MustNewUUID(), "1", "2")
		require.NoError(t, err)
		assert.False(t, replaced)
	})

	t.Run("Remove", func(t *testing.T) {
		key := utils.MustNewUUID()
		require.NoError(t, store.Put(ctx, key, "bar"))

		value, err := store.Remove(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "bar", value)

		value, _ = store.Get(ctx, key)
		assert.Equal(t, "", value)

		value, err = store.Remove(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "", value)
	})

	t.Run("EmptyArguments", func(t *testing.T) {
		_, err := store.Get(ctx, "")
		assert.Equal(t, ErrEmptyKey, err)
		assert.Equal(t, ErrEmptyValue, store.Put(ctx, "k", ""))
		_, err = store.PutIfAbsent(ctx, "", "v")
		assert.Equal(t, ErrEmptyKey, err)
		_, err = store.Replace(ctx, "k", "v", "")
		assert.Equal(t, ErrEmptyValue, err)
		_, err = store.Remove(ctx, "")
		assert.Equal(t, ErrEmptyKey, err)
	})

	t.Run("ConcurrentReplace", func(t *testing.T) {
		key := utils.MustNewUUID()
		require.NoError(t, store.Put(ctx, key, "0"))

		var wg sync.WaitGroup
		var mux sync.Mutex
		wins := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := store.Replace(ctx, key, "0", utils.MustNewUUID())
				assert.NoError(t, err)
				if ok {
					mux.Lock()
					wins++
					mux.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})
}

func TestSimpleMetadataStore(t *testing.T) {
	verifyConcurrentMetadataStore(t, NewSimpleMetadataStore())
}
