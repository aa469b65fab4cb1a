/*
 * Copyright (c) 2018 VMware, Inc.
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
// The implementation is derived from https://github.com/patrobinson/gokini
//
// Copyright 2018 Patrick robinson
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of this software and associated documentation files (the "Software"), to deal in the Software without restriction, including without limitation the rights to use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of the Software, and to permit persons to whom the Software is furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
package metadata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/matryer/try"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/spring-operator/spring-integration-aws/clientlibrary/config"
	"github.com/spring-operator/spring-integration-aws/clientlibrary/metadata/metadatatest"
	"github.com/spring-operator/spring-integration-aws/clientlibrary/metrics"
	"github.com/spring-operator/spring-integration-aws/clientlibrary/utils"
)

var _ ConcurrentMetadataStore = (*DynamoDBMetadataStore)(nil)

func TestInitTableExists(t *testing.T) {
	svc := metadatatest.NewMockDynamoDB(true)
	store := newTestStore(svc, nil)
	require.NoError(t, store.Init())
	defer store.Shutdown()

	assert.Nil(t, svc.CreateInput)
	require.NoError(t, store.Put(context.Background(), "foo", "bar"))

	value, err := store.Get(context.Background(), "foo")
	assert.NoError(t, err)
	assert.Equal(t, "bar", value)
}

func TestInitCreatesMissingTable(t *testing.T) {
	svc := metadatatest.NewMockDynamoDB(false)
	mService := &recordingMonitoringService{}
	store := newTestStore(svc, mService)
	require.NoError(t, store.Init())

	// operations wait on the background provisioning
	value, err := store.PutIfAbsent(context.Background(), "foo", "1")
	require.NoError(t, err)
	assert.Equal(t, "", value)
	store.Shutdown()

	input := svc.CreateInput
	require.NotNil(t, input)
	assert.Equal(t, "TestTable", aws.StringValue(input.TableName))
	assert.Equal(t, KeyAttribute, aws.StringValue(input.KeySchema[0].AttributeName))
	assert.Equal(t, dynamodb.KeyTypeHash, aws.StringValue(input.KeySchema[0].KeyType))
	assert.Equal(t, dynamodb.ScalarAttributeTypeS, aws.StringValue(input.AttributeDefinitions[0].AttributeType))
	assert.Equal(t, int64(3), aws.Int64Value(input.ProvisionedThroughput.ReadCapacityUnits))
	assert.Equal(t, int64(4), aws.Int64Value(input.ProvisionedThroughput.WriteCapacityUnits))

	assert.Equal(t, 3, svc.WaiterAttempts)
	assert.Equal(t, 10*time.Millisecond, svc.WaiterDelay)
	assert.Equal(t, 1, mService.count("tableCreated"))
}

func TestInitToleratesTableBeingCreated(t *testing.T) {
	svc := metadatatest.NewMockDynamoDB(false)
	svc.CreateErr = awserr.New(dynamodb.ErrCodeResourceInUseException, "Table already exists", nil)
	svc.CreatedByOther = true
	mService := &recordingMonitoringService{}
	store := newTestStore(svc, mService)
	require.NoError(t, store.Init())
	defer store.Shutdown()

	require.NoError(t, store.Put(context.Background(), "foo", "bar"))
	assert.Equal(t, 1, svc.WaiterCalls)
	assert.Equal(t, 0, mService.count("tableCreated"))
}

func TestInitFailsOnDescribeError(t *testing.T) {
	svc := metadatatest.NewMockDynamoDB(true)
	svc.DescribeErr = awserr.New("AccessDeniedException", "denied", nil)
	store := newTestStore(svc, nil)

	err := store.Init()
	assert.Error(t, err)
	assert.Equal(t, "AccessDeniedException", utils.AWSErrCode(err))
}

func TestCreateTableFailureReleasesWaiters(t *testing.T) {
	svc := metadatatest.NewMockDynamoDB(false)
	svc.CreateErr = awserr.New(dynamodb.ErrCodeLimitExceededException, "too many tables", nil)
	store := newTestStore(svc, nil)
	require.NoError(t, store.Init())
	defer store.Shutdown()

	// released without hanging, but the table is still missing
	_, err := store.Get(context.Background(), "foo")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrTableNotActive))
	assert.Equal(t, dynamodb.ErrCodeResourceNotFoundException, utils.AWSErrCode(err))
	assert.Equal(t, 0, svc.WaiterCalls)
}

func TestWaiterFailureReleasesWaiters(t *testing.T) {
	svc := metadatatest.NewMockDynamoDB(false)
	svc.WaitErr = awserr.New(request.WaiterResourceNotReadyErrorCode, "exceeded wait attempts", nil)
	store := newTestStore(svc, nil)
	require.NoError(t, store.Init())
	defer store.Shutdown()

	_, err := store.Get(context.Background(), "foo")
	assert.NoError(t, err)
}

func TestOperationsFailWhenTableNeverBecomesActive(t *testing.T) {
	svc := metadatatest.NewMockDynamoDB(false)
	svc.WaitBlock = make(chan struct{})
	store := newTestStore(svc, nil)
	require.NoError(t, store.Init())

	start := time.Now()
	_, err := store.Get(context.Background(), "foo")
	assert.True(t, errors.Is(err, ErrTableNotActive))
	assert.True(t, time.Since(start) >= 30*time.Millisecond)

	err = store.Put(context.Background(), "foo", "bar")
	assert.True(t, errors.Is(err, ErrTableNotActive))

	// Shutdown cancels the waiter, which releases the gate
	store.Shutdown()
	_, err = store.Get(context.Background(), "foo")
	assert.NoError(t, err)
}

func TestAwaitActiveHonoursContext(t *testing.T) {
	svc := metadatatest.NewMockDynamoDB(false)
	svc.WaitBlock = make(chan struct{})
	store := newTestStore(svc, nil)
	store.activeTimeout = time.Minute
	require.NoError(t, store.Init())
	defer store.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.Remove(ctx, "foo")
	assert.True(t, errors.Is(err, ErrTableNotActive))
}

func TestArgumentsAreCheckedBeforeIO(t *testing.T) {
	// no Init and no client: nothing may reach DynamoDB
	store := newTestStore(nil, nil)
	ctx := context.Background()

	_, err := store.Get(ctx, "")
	assert.Equal(t, ErrEmptyKey, err)
	assert.Equal(t, ErrEmptyKey, store.Put(ctx, "", "v"))
	assert.Equal(t, ErrEmptyValue, store.Put(ctx, "k", ""))
	_, err = store.PutIfAbsent(ctx, "k", "")
	assert.Equal(t, ErrEmptyValue, err)
	_, err = store.Replace(ctx, "k", "", "v")
	assert.Equal(t, ErrEmptyValue, err)
	_, err = store.Replace(ctx, "k", "v", "")
	assert.Equal(t, ErrEmptyValue, err)
	_, err = store.Remove(ctx, "")
	assert.Equal(t, ErrEmptyKey, err)
}

func TestPutIfAbsent(t *testing.T) {
	store, mService := initializedStore(t)
	ctx := context.Background()

	value, err := store.PutIfAbsent(ctx, "foo", "bar")
	require.NoError(t, err)
	assert.Equal(t, "", value)

	value, err = store.PutIfAbsent(ctx, "foo", "baz")
	require.NoError(t, err)
	assert.Equal(t, "bar", value)

	value, _ = store.Get(ctx, "foo")
	assert.Equal(t, "bar", value)
	assert.Equal(t, 1, mService.count("conditionalCheckFailed:"+metrics.OpPutIfAbsent))
}

func TestReplace(t *testing.T) {
	store, _ := initializedStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "foo", "1"))
	replaced, err := store.Replace(ctx, "foo", "1", "2")
	require.NoError(t, err)
	assert.True(t, replaced)

	require.NoError(t, store.Put(ctx, "bar", "2"))
	replaced, err = store.Replace(ctx, "bar", "1", "3")
	require.NoError(t, err)
	assert.False(t, replaced)
	value, _ := store.Get(ctx, "bar")
	assert.Equal(t, "2", value)

	replaced, err = store.Replace(ctx, "missing", "1", "2")
	require.NoError(t, err)
	assert.False(t, replaced)
	value, _ = store.Get(ctx, "missing")
	assert.Equal(t, "", value)
}

func TestRemove(t *testing.T) {
	store, _ := initializedStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "foo", "bar"))
	value, err := store.Remove(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, "bar", value)

	value, err = store.Get(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, "", value)

	value, err = store.Remove(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, "", value)
}

func TestPutOverwrites(t *testing.T) {
	store, _ := initializedStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "foo", "100"))
	require.NoError(t, store.Put(ctx, "foo", "5"))
	value, _ := store.Get(ctx, "foo")
	assert.Equal(t, "5", value)
}

func TestThrottledRequestsAreRetried(t *testing.T) {
	store, mService := initializedStore(t)
	svc := store.svc.(*metadatatest.MockDynamoDB)
	svc.SetThrottle(2)

	require.NoError(t, store.Put(context.Background(), "foo", "bar"))
	assert.Equal(t, 3, svc.Calls("PutItem"))
	assert.Equal(t, 0, mService.count("error:"+metrics.OpPut))
}

func TestThrottlingGivesUpAfterMaxRetries(t *testing.T) {
	store, mService := initializedStore(t)
	store.Retries = 2
	svc := store.svc.(*metadatatest.MockDynamoDB)
	svc.SetThrottle(5)

	_, err := store.Get(context.Background(), "foo")
	assert.Equal(t, dynamodb.ErrCodeProvisionedThroughputExceededException, utils.AWSErrCode(err))
	assert.Equal(t, 2, svc.Calls("GetItem"))
	assert.Equal(t, 1, mService.count("error:"+metrics.OpGet))
}

func TestRetriesAreCappedAtRetryLimit(t *testing.T) {
	config := cfg.NewMetadataStoreConfig("us-west-2").WithTableName("TestTable")
	config.MaxRetries = 50
	svc := metadatatest.NewMockDynamoDB(true)
	store := NewDynamoDBMetadataStore(config).WithDynamoDB(svc)
	assert.Equal(t, try.MaxRetries, store.Retries)

	store.retryBackoff = time.Microsecond
	require.NoError(t, store.Init())
	defer store.Shutdown()

	// the AWS error code survives exhausting every attempt
	svc.SetThrottle(20)
	_, err := store.Get(context.Background(), "foo")
	assert.Equal(t, dynamodb.ErrCodeProvisionedThroughputExceededException, utils.AWSErrCode(err))
	assert.Equal(t, try.MaxRetries, svc.Calls("GetItem"))

	// and so it does when the exported field is raised after construction
	store.Retries = 50
	svc.SetThrottle(20)
	err = store.Put(context.Background(), "foo", "bar")
	assert.Equal(t, dynamodb.ErrCodeProvisionedThroughputExceededException, utils.AWSErrCode(err))
	assert.Equal(t, try.MaxRetries, svc.Calls("PutItem"))
}

func TestDynamoDBMetadataStoreContract(t *testing.T) {
	store, _ := initializedStore(t)
	verifyConcurrentMetadataStore(t, store)
}

func TestConcurrentPutIfAbsentHasSingleWinner(t *testing.T) {
	store, _ := initializedStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(value string) {
			defer wg.Done()
			prev, err := store.PutIfAbsent(ctx, "shared", value)
			assert.NoError(t, err)
			if prev == "" {
				results <- value
			}
		}(utils.MustNewUUID())
	}
	wg.Wait()
	close(results)

	var winners []string
	for v := range results {
		winners = append(winners, v)
	}
	require.Len(t, winners, 1)
	stored, _ := store.Get(ctx, "shared")
	assert.Equal(t, winners[0], stored)
}

func newTestStore(svc dynamodbiface.DynamoDBAPI, mService metrics.MonitoringService) *DynamoDBMetadataStore {
	config := cfg.NewMetadataStoreConfig("us-west-2").
		WithTableName("TestTable").
		WithReadCapacity(3).
		WithWriteCapacity(4).
		WithCreateTableRetries(3).
		WithMonitoringService(mService)

	store := NewDynamoDBMetadataStore(config)
	store.createTableDelay = 10 * time.Millisecond
	store.activeTimeout = 30 * time.Millisecond
	store.retryBackoff = time.Millisecond
	if svc != nil {
		store.WithDynamoDB(svc)
	}
	return store
}

func initializedStore(t *testing.T) (*DynamoDBMetadataStore, *recordingMonitoringService) {
	mService := &recordingMonitoringService{}
	store := newTestStore(metadatatest.NewMockDynamoDB(true), mService)
	require.NoError(t, store.Init())
	t.Cleanup(store.Shutdown)
	return store, mService
}

type recordingMonitoringService struct {
	metrics.NoopMonitoringService

	mu     sync.Mutex
	counts map[string]int
}

func (r *recordingMonitoringService) incr(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[name]++
}

func (r *recordingMonitoringService) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

func (r *recordingMonitoringService) IncrStoreOperationError(op string) { r.incr("error:" + op) }
func (r *recordingMonitoringService) IncrConditionalCheckFailed(op string) {
	r.incr("conditionalCheckFailed:" + op)
}
func (r *recordingMonitoringService) TableCreated(table string) { r.incr("tableCreated") }
