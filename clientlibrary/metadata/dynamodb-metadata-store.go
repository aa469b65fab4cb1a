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
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/matryer/try"

	"github.com/spring-operator/spring-integration-aws/clientlibrary/config"
	"github.com/spring-operator/spring-integration-aws/clientlibrary/metrics"
	"github.com/spring-operator/spring-integration-aws/clientlibrary/utils"
	"github.com/spring-operator/spring-integration-aws/logger"
)

const (
	// KeyAttribute is the hash key of the metadata table.
	KeyAttribute = "KEY"

	// ValueAttribute holds the stored value.
	ValueAttribute = "VALUE"

	// KEY and VALUE are reserved words in DynamoDB expressions.
	keyPlaceholder   = "#k"
	valuePlaceholder = "#v"

	defaultRetryBackoff = 100 * time.Millisecond
)

type metadataItem struct {
	Key   string `dynamodbav:"KEY"`
	Value string `dynamodbav:"VALUE,omitempty"`
}

// DynamoDBMetadataStore implements ConcurrentMetadataStore on top of a DynamoDB
// table with a single string hash key. The table is created on Init when it is
// missing, and operations wait for it to become active.
type DynamoDBMetadataStore struct {
	log      logger.Logger
	mService metrics.MonitoringService

	TableName     string
	readCapacity  int64
	writeCapacity int64

	createTableRetries int
	createTableDelay   time.Duration
	activeTimeout      time.Duration

	// Retries bounds the attempts of a throttled request. Values above
	// try.MaxRetries are capped.
	Retries      int
	retryBackoff time.Duration

	svc    dynamodbiface.DynamoDBAPI
	config *config.MetadataStoreConfiguration

	ready     chan struct{}
	readyOnce sync.Once
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
}

func NewDynamoDBMetadataStore(cfg *config.MetadataStoreConfiguration) *DynamoDBMetadataStore {
	retries := cfg.MaxRetries
	if retries > try.MaxRetries {
		cfg.Logger.Warnf("MaxRetries %d exceeds the retry limit, using %d", retries, try.MaxRetries)
		retries = try.MaxRetries
	}

	return &DynamoDBMetadataStore{
		log:                cfg.Logger,
		mService:           cfg.MonitoringService,
		TableName:          cfg.TableName,
		readCapacity:       int64(cfg.ReadCapacity),
		writeCapacity:      int64(cfg.WriteCapacity),
		createTableRetries: cfg.CreateTableRetries,
		createTableDelay:   cfg.CreateTableDelay(),
		activeTimeout:      cfg.ActiveTableTimeout(),
		Retries:            retries,
		retryBackoff:       defaultRetryBackoff,
		config:             cfg,
		ready:              make(chan struct{}),
		cancel:             func() {},
	}
}

// WithDynamoDB is used to provide DynamoDB service
func (store *DynamoDBMetadataStore) WithDynamoDB(svc dynamodbiface.DynamoDBAPI) *DynamoDBMetadataStore {
	store.svc = svc
	return store
}

// Init connects to DynamoDB and makes sure the metadata table exists. A missing
// table is created in the background; Init does not wait for it.
func (store *DynamoDBMetadataStore) Init() error {
	if store.svc == nil {
		store.log.Infof("Creating DynamoDB session")

		awsConfig := &aws.Config{
			Region:      aws.String(store.config.RegionName),
			Credentials: store.config.DynamoDBCredentials,
			Retryer: client.DefaultRetryer{
				NumMaxRetries:    store.Retries,
				MinRetryDelay:    client.DefaultRetryerMinRetryDelay,
				MinThrottleDelay: client.DefaultRetryerMinThrottleDelay,
				MaxRetryDelay:    client.DefaultRetryerMaxRetryDelay,
				MaxThrottleDelay: client.DefaultRetryerMaxRetryDelay,
			},
		}
		if store.config.DynamoDBEndpoint != "" {
			awsConfig.Endpoint = aws.String(store.config.DynamoDBEndpoint)
		}

		s, err := session.NewSession(awsConfig)
		if err != nil {
			return fmt.Errorf("creating DynamoDB session: %w", err)
		}
		store.svc = dynamodb.New(s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	store.cancel = cancel

	_, err := store.svc.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(store.TableName),
	})
	switch {
	case err == nil:
		store.markReady()
		return nil
	case utils.AWSErrCode(err) == dynamodb.ErrCodeResourceNotFoundException:
		store.log.Infof("No table '%s'. Creating one...", store.TableName)
		store.waitGroup.Add(1)
		go store.provision(ctx)
		return nil
	default:
		cancel()
		return fmt.Errorf("describing table %s: %w", store.TableName, err)
	}
}

// Shutdown stops a pending table provisioning and waits for it to return.
func (store *DynamoDBMetadataStore) Shutdown() {
	store.cancel()
	store.waitGroup.Wait()
}

// provision creates the table and waits until it is active. Blocked operations
// are released whatever the outcome.
func (store *DynamoDBMetadataStore) provision(ctx context.Context) {
	defer store.waitGroup.Done()
	defer store.markReady()

	if err := store.createTable(ctx); err != nil {
		store.log.Errorf("Cannot create DynamoDB table: %s. Error: %+v", store.TableName, err)
		return
	}

	err := store.svc.WaitUntilTableExistsWithContext(ctx,
		&dynamodb.DescribeTableInput{TableName: aws.String(store.TableName)},
		request.WithWaiterMaxAttempts(store.createTableRetries),
		request.WithWaiterDelay(request.ConstantWaiterDelay(store.createTableDelay)),
	)
	if err != nil {
		store.log.Errorf("Cannot describe DynamoDB table: %s. Error: %+v", store.TableName, err)
		return
	}
	store.log.Infof("DynamoDB table %s is active", store.TableName)
}

func (store *DynamoDBMetadataStore) createTable(ctx context.Context) error {
	input := &dynamodb.CreateTableInput{
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String(KeyAttribute),
				AttributeType: aws.String(dynamodb.ScalarAttributeTypeS),
			},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String(KeyAttribute),
				KeyType:       aws.String(dynamodb.KeyTypeHash),
			},
		},
		ProvisionedThroughput: &dynamodb.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(store.readCapacity),
			WriteCapacityUnits: aws.Int64(store.writeCapacity),
		},
		TableName: aws.String(store.TableName),
	}
	_, err := store.svc.CreateTableWithContext(ctx, input)
	if utils.AWSErrCode(err) == dynamodb.ErrCodeResourceInUseException {
		// another process is creating the same table
		store.log.Infof("DynamoDB table %s is already being created", store.TableName)
		return nil
	}
	if err != nil {
		return err
	}
	store.mService.TableCreated(store.TableName)
	return nil
}

func (store *DynamoDBMetadataStore) markReady() {
	store.readyOnce.Do(func() { close(store.ready) })
}

// awaitActive blocks until provisioning finished, for at most retries * delay.
func (store *DynamoDBMetadataStore) awaitActive(ctx context.Context) error {
	select {
	case <-store.ready:
		return nil
	default:
	}

	timeout := store.activeTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-store.ready:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: table %s has not been created during %v", ErrTableNotActive, store.TableName, timeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for table %s: %v", ErrTableNotActive, store.TableName, ctx.Err())
	}
}

func (store *DynamoDBMetadataStore) Put(ctx context.Context, key, value string) error {
	if err := checkKeyValue(key, value); err != nil {
		return err
	}
	if err := store.awaitActive(ctx); err != nil {
		return err
	}

	item, err := dynamodbattribute.MarshalMap(metadataItem{Key: key, Value: value})
	if err != nil {
		return err
	}

	return store.call(metrics.OpPut, key, func() error {
		_, err := store.svc.PutItemWithContext(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(store.TableName),
			Item:      item,
		})
		return err
	})
}

func (store *DynamoDBMetadataStore) Get(ctx context.Context, key string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	if err := store.awaitActive(ctx); err != nil {
		return "", err
	}

	var output *dynamodb.GetItemOutput
	err := store.call(metrics.OpGet, key, func() error {
		var err error
		output, err = store.svc.GetItemWithContext(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(store.TableName),
			Key:            keyOf(key),
			ConsistentRead: aws.Bool(true),
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return valueOf(output.Item)
}

func (store *DynamoDBMetadataStore) PutIfAbsent(ctx context.Context, key, value string) (string, error) {
	if err := checkKeyValue(key, value); err != nil {
		return "", err
	}
	if err := store.awaitActive(ctx); err != nil {
		return "", err
	}

	err := store.call(metrics.OpPutIfAbsent, key, func() error {
		_, err := store.svc.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String(store.TableName),
			Key:                 keyOf(key),
			UpdateExpression:    aws.String("SET #v = :v"),
			ConditionExpression: aws.String("attribute_not_exists(#k)"),
			ExpressionAttributeNames: map[string]*string{
				keyPlaceholder:   aws.String(KeyAttribute),
				valuePlaceholder: aws.String(ValueAttribute),
			},
			ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
				":v": {S: aws.String(value)},
			},
		})
		return err
	})
	if utils.AWSErrCode(err) == dynamodb.ErrCodeConditionalCheckFailedException {
		return store.Get(ctx, key)
	}
	return "", err
}

func (store *DynamoDBMetadataStore) Replace(ctx context.Context, key, oldValue, newValue string) (bool, error) {
	if err := checkKeyValue(key, oldValue); err != nil {
		return false, err
	}
	if newValue == "" {
		return false, ErrEmptyValue
	}
	if err := store.awaitActive(ctx); err != nil {
		return false, err
	}

	var output *dynamodb.UpdateItemOutput
	err := store.call(metrics.OpReplace, key, func() error {
		var err error
		output, err = store.svc.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String(store.TableName),
			Key:                 keyOf(key),
			UpdateExpression:    aws.String("SET #v = :new"),
			ConditionExpression: aws.String("#v = :old"),
			ExpressionAttributeNames: map[string]*string{
				valuePlaceholder: aws.String(ValueAttribute),
			},
			ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
				":old": {S: aws.String(oldValue)},
				":new": {S: aws.String(newValue)},
			},
			ReturnValues: aws.String(dynamodb.ReturnValueUpdatedNew),
		})
		return err
	})
	if utils.AWSErrCode(err) == dynamodb.ErrCodeConditionalCheckFailedException {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(output.Attributes) > 0, nil
}

func (store *DynamoDBMetadataStore) Remove(ctx context.Context, key string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	if err := store.awaitActive(ctx); err != nil {
		return "", err
	}

	var output *dynamodb.DeleteItemOutput
	err := store.call(metrics.OpRemove, key, func() error {
		var err error
		output, err = store.svc.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
			TableName:    aws.String(store.TableName),
			Key:          keyOf(key),
			ReturnValues: aws.String(dynamodb.ReturnValueAllOld),
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return valueOf(output.Attributes)
}

// call runs a single DynamoDB request, retrying throttling and internal server
// errors with exponential backoff, and records its metrics. Conditional check
// failures are returned untouched so callers can tell them apart.
func (store *DynamoDBMetadataStore) call(op, key string, fn func() error) error {
	// try.Do replaces the last error once attempts exceed try.MaxRetries
	limit := min(store.Retries, try.MaxRetries)

	start := time.Now()
	err := try.Do(func(attempt int) (bool, error) {
		err := fn()
		code := utils.AWSErrCode(err)
		if (code == dynamodb.ErrCodeProvisionedThroughputExceededException ||
			code == dynamodb.ErrCodeInternalServerError) && attempt < limit {
			// Backoff time as recommended by https://docs.aws.amazon.com/general/latest/gr/api-retries.html
			time.Sleep(time.Duration(math.Exp2(float64(attempt))) * store.retryBackoff)
			return true, err
		}
		return false, err
	})
	store.mService.RecordStoreOperationTime(op, float64(time.Since(start).Milliseconds()))

	switch {
	case err == nil:
		return nil
	case utils.AWSErrCode(err) == dynamodb.ErrCodeConditionalCheckFailedException:
		store.mService.IncrConditionalCheckFailed(op)
		return err
	default:
		store.mService.IncrStoreOperationError(op)
		return fmt.Errorf("%s %s on table %s: %w", op, key, store.TableName, err)
	}
}

func keyOf(key string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		KeyAttribute: {S: aws.String(key)},
	}
}

func valueOf(attributes map[string]*dynamodb.AttributeValue) (string, error) {
	if len(attributes) == 0 {
		return "", nil
	}
	var item metadataItem
	if err := dynamodbattribute.UnmarshalMap(attributes, &item); err != nil {
		return "", err
	}
	return item.Value, nil
}
