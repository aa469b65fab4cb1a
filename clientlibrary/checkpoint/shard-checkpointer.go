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
package checkpoint

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/spring-operator/spring-integration-aws/clientlibrary/metadata"
	"github.com/spring-operator/spring-integration-aws/clientlibrary/metrics"
	"github.com/spring-operator/spring-integration-aws/logger"
)

// ShardCheckpointer keeps the checkpoint of one shard in a ConcurrentMetadataStore.
// Checkpoints only move forward: a write happens when the new sequence number is
// numerically greater than the stored one, through a compare-and-swap.
//
// Close only stops this instance from writing. A checkpoint already past the
// active check when Close runs may still land; the compare-and-swap in the store
// is what keeps the stored value monotonic.
type ShardCheckpointer struct {
	store    metadata.ConcurrentMetadataStore
	key      string
	log      logger.Logger
	mService metrics.MonitoringService

	lastCheckpointValue atomic.Value
	active              atomic.Bool
}

func NewShardCheckpointer(store metadata.ConcurrentMetadataStore, key string) *ShardCheckpointer {
	c := &ShardCheckpointer{
		store:    store,
		key:      key,
		log:      logger.GetDefaultLogger(),
		mService: metrics.NoopMonitoringService{},
	}
	c.lastCheckpointValue.Store("")
	c.active.Store(true)
	return c
}

func (c *ShardCheckpointer) WithLogger(log logger.Logger) *ShardCheckpointer {
	c.log = log
	return c
}

func (c *ShardCheckpointer) WithMonitoringService(mService metrics.MonitoringService) *ShardCheckpointer {
	c.mService = mService
	return c
}

// Checkpoint writes the value last passed to SetHighestSequence. The caller is
// responsible for not moving that value backwards.
func (c *ShardCheckpointer) Checkpoint() (bool, error) {
	return c.CheckpointSequence(c.GetLastCheckpointValue())
}

// CheckpointSequence stores sequenceNumber if it is greater than the current
// checkpoint. A stale value, a lost race with another writer and a closed
// checkpointer all return false without an error. Races are not retried.
func (c *ShardCheckpointer) CheckpointSequence(sequenceNumber string) (bool, error) {
	if !c.active.Load() {
		c.log.Infof("The [%s] has been closed. Checkpoints aren't accepted anymore.", c)
		c.mService.CheckpointRejected(c.key)
		return false, nil
	}

	incoming, err := parseSequenceNumber(sequenceNumber)
	if err != nil {
		return false, err
	}

	ctx := context.Background()
	existing, err := c.store.Get(ctx, c.key)
	if err != nil {
		return false, err
	}

	if existing == "" {
		prev, err := c.store.PutIfAbsent(ctx, c.key, sequenceNumber)
		if err != nil {
			return false, err
		}
		if prev != "" {
			c.log.Debugf("Checkpoint %s for %s lost to a concurrent write of %s", sequenceNumber, c.key, prev)
		}
		return c.report(prev == ""), nil
	}

	current, err := parseSequenceNumber(existing)
	if err != nil {
		return false, fmt.Errorf("stored checkpoint of %s: %w", c.key, err)
	}
	if current.Cmp(incoming) >= 0 {
		c.log.Debugf("Checkpoint %s for %s is not ahead of the stored %s", sequenceNumber, c.key, existing)
		return c.report(false), nil
	}

	replaced, err := c.store.Replace(ctx, c.key, existing, sequenceNumber)
	if err != nil {
		return false, err
	}
	return c.report(replaced), nil
}

func (c *ShardCheckpointer) report(applied bool) bool {
	if applied {
		c.mService.CheckpointApplied(c.key)
	} else {
		c.mService.CheckpointRejected(c.key)
	}
	return applied
}

// SetHighestSequence records the highest sequence number processed locally.
// Nothing is written to the store.
func (c *ShardCheckpointer) SetHighestSequence(sequenceNumber string) {
	c.lastCheckpointValue.Store(sequenceNumber)
}

// GetCheckpoint reads the stored checkpoint, "" if there is none.
func (c *ShardCheckpointer) GetCheckpoint() (string, error) {
	return c.store.Get(context.Background(), c.key)
}

func (c *ShardCheckpointer) GetLastCheckpointValue() string {
	return c.lastCheckpointValue.Load().(string)
}

// Remove deletes the stored checkpoint of the shard.
func (c *ShardCheckpointer) Remove() error {
	_, err := c.store.Remove(context.Background(), c.key)
	return err
}

// Close makes every later checkpoint a no-op.
func (c *ShardCheckpointer) Close() {
	c.active.Store(false)
}

func (c *ShardCheckpointer) IsActive() bool {
	return c.active.Load()
}

func (c *ShardCheckpointer) String() string {
	return fmt.Sprintf("ShardCheckpointer{key='%s', lastCheckpointValue='%s'}", c.key, c.GetLastCheckpointValue())
}

func parseSequenceNumber(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSequenceNumber, s)
	}
	return n, nil
}
