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

// Package metadatatest provides an in-memory DynamoDB client for testing code
// built on the DynamoDB metadata store.
package metadatatest

import (
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

// Attribute names of the metadata table.
const (
	keyAttribute   = "KEY"
	valueAttribute = "VALUE"
)

// MockDynamoDB keeps the metadata table in a map and evaluates the condition
// expressions sent by the metadata store. Exported fields configure failures
// and must be set before the client is shared; the recorded fields are safe to
// read once the store has been shut down.
type MockDynamoDB struct {
	dynamodbiface.DynamoDBAPI

	mu        sync.Mutex
	items     map[string]string
	throttle  int
	callCount map[string]int

	TableExist     bool
	CreatedByOther bool

	DescribeErr error
	CreateErr   error
	WaitErr     error
	WaitBlock   chan struct{}

	CreateInput    *dynamodb.CreateTableInput
	WaiterCalls    int
	WaiterAttempts int
	WaiterDelay    time.Duration
}

func NewMockDynamoDB(tableExist bool) *MockDynamoDB {
	return &MockDynamoDB{
		TableExist: tableExist,
		items:      map[string]string{},
		callCount:  map[string]int{},
	}
}

// SetThrottle makes the next n item requests fail with ProvisionedThroughputExceeded.
func (m *MockDynamoDB) SetThrottle(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throttle = n
}

// Calls returns how many times the named item request was made, e.g. "PutItem".
func (m *MockDynamoDB) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount[name]
}

// Item returns the stored value of key.
func (m *MockDynamoDB) Item(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.items[key]
	return value, ok
}

// ConditionalCheckFailed is the error DynamoDB returns for a rejected conditional write.
func ConditionalCheckFailed() error {
	return awserr.New(dynamodb.ErrCodeConditionalCheckFailedException, "The conditional request failed", nil)
}

// failure is called with m.mu held.
func (m *MockDynamoDB) failure(name string) error {
	m.callCount[name]++
	if !m.TableExist {
		return awserr.New(dynamodb.ErrCodeResourceNotFoundException, "Requested resource not found", nil)
	}
	if m.throttle > 0 {
		m.throttle--
		return awserr.New(dynamodb.ErrCodeProvisionedThroughputExceededException, "slow down", nil)
	}
	return nil
}

func (m *MockDynamoDB) DescribeTableWithContext(ctx aws.Context, input *dynamodb.DescribeTableInput, opts ...request.Option) (*dynamodb.DescribeTableOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DescribeErr != nil {
		return nil, m.DescribeErr
	}
	if !m.TableExist {
		return nil, awserr.New(dynamodb.ErrCodeResourceNotFoundException, "Requested resource not found", nil)
	}
	return &dynamodb.DescribeTableOutput{
		Table: &dynamodb.TableDescription{
			TableName:   input.TableName,
			TableStatus: aws.String(dynamodb.TableStatusActive),
		},
	}, nil
}

func (m *MockDynamoDB) CreateTableWithContext(ctx aws.Context, input *dynamodb.CreateTableInput, opts ...request.Option) (*dynamodb.CreateTableOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateInput = input
	if m.CreatedByOther {
		m.TableExist = true
	}
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	m.TableExist = true
	return &dynamodb.CreateTableOutput{}, nil
}

func (m *MockDynamoDB) WaitUntilTableExistsWithContext(ctx aws.Context, input *dynamodb.DescribeTableInput, opts ...request.WaiterOption) error {
	w := &request.Waiter{}
	for _, opt := range opts {
		opt(w)
	}

	m.mu.Lock()
	m.WaiterCalls++
	m.WaiterAttempts = w.MaxAttempts
	m.WaiterDelay = w.Delay(0)
	block := m.WaitBlock
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.WaitErr
}

func (m *MockDynamoDB) PutItemWithContext(ctx aws.Context, input *dynamodb.PutItemInput, opts ...request.Option) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("PutItem"); err != nil {
		return nil, err
	}
	m.items[aws.StringValue(input.Item[keyAttribute].S)] = aws.StringValue(input.Item[valueAttribute].S)
	return &dynamodb.PutItemOutput{}, nil
}

func (m *MockDynamoDB) GetItemWithContext(ctx aws.Context, input *dynamodb.GetItemInput, opts ...request.Option) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("GetItem"); err != nil {
		return nil, err
	}
	key := aws.StringValue(input.Key[keyAttribute].S)
	value, ok := m.items[key]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: record(key, value)}, nil
}

func (m *MockDynamoDB) UpdateItemWithContext(ctx aws.Context, input *dynamodb.UpdateItemInput, opts ...request.Option) (*dynamodb.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("UpdateItem"); err != nil {
		return nil, err
	}

	key := aws.StringValue(input.Key[keyAttribute].S)
	current, exists := m.items[key]
	values := input.ExpressionAttributeValues

	switch aws.StringValue(input.ConditionExpression) {
	case "attribute_not_exists(#k)":
		if exists {
			return nil, ConditionalCheckFailed()
		}
		m.items[key] = aws.StringValue(values[":v"].S)
		return &dynamodb.UpdateItemOutput{}, nil
	case "#v = :old":
		if !exists || current != aws.StringValue(values[":old"].S) {
			return nil, ConditionalCheckFailed()
		}
		newValue := aws.StringValue(values[":new"].S)
		m.items[key] = newValue
		return &dynamodb.UpdateItemOutput{
			Attributes: map[string]*dynamodb.AttributeValue{valueAttribute: {S: aws.String(newValue)}},
		}, nil
	}
	return nil, awserr.New("ValidationException", "unsupported condition expression", nil)
}

func (m *MockDynamoDB) DeleteItemWithContext(ctx aws.Context, input *dynamodb.DeleteItemInput, opts ...request.Option) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("DeleteItem"); err != nil {
		return nil, err
	}
	key := aws.StringValue(input.Key[keyAttribute].S)
	value, ok := m.items[key]
	if !ok {
		return &dynamodb.DeleteItemOutput{}, nil
	}
	delete(m.items, key)
	return &dynamodb.DeleteItemOutput{Attributes: record(key, value)}, nil
}

func record(key, value string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		keyAttribute:   {S: aws.String(key)},
		valueAttribute: {S: aws.String(value)},
	}
}
