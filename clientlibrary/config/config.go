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
package config

import (
	"log"
	"strings"
	"time"

	creds "github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/matryer/try"

	"github.com/spring-operator/spring-integration-aws/clientlibrary/metrics"
	"github.com/spring-operator/spring-integration-aws/logger"
)

const (
	// The default name for the metadata table in DynamoDB.
	DefaultTableName = "SpringIntegrationMetadataStore"

	// The metadata table will be provisioned with this read capacity.
	DefaultReadCapacity = 1

	// The metadata table will be provisioned with this write capacity.
	DefaultWriteCapacity = 1

	// Number of times the table status is polled after a create table request.
	// Together with DefaultCreateTableDelaySeconds this also bounds how long an
	// operation waits for the table to become active.
	DefaultCreateTableRetries = 25

	// Delay in seconds between two table status polls.
	DefaultCreateTableDelaySeconds = 1

	// Max retries for a store request throttled by DynamoDB. This is also the
	// largest accepted value.
	DefaultMaxRetries = 10
)

// MetadataStoreConfiguration configures the DynamoDB backed metadata store.
// Note: There is no need to configure credential provider. Credential can be get from InstanceProfile.
type MetadataStoreConfiguration struct {
	// TableName is the name of the DynamoDB table holding the metadata entries.
	TableName string

	// RegionName The region name for the service
	RegionName string

	// DynamoDBEndpoint is an optional endpoint URL that overrides the default generated endpoint for a DynamoDB client.
	// If this is empty, the default generated endpoint will be used.
	DynamoDBEndpoint string

	// DynamoDBCredentials is used to access DynamoDB
	DynamoDBCredentials *creds.Credentials

	// Read capacity to provision when creating the metadata table.
	ReadCapacity int

	// Write capacity to provision when creating the metadata table.
	WriteCapacity int

	// CreateTableRetries is the max number of table status polls while waiting for the table.
	CreateTableRetries int

	// CreateTableDelaySeconds is the fixed delay between two table status polls.
	CreateTableDelaySeconds int

	// MaxRetries is the max number of attempts for a throttled request, at most try.MaxRetries.
	MaxRetries int

	// Logger used to log message.
	Logger logger.Logger

	// MonitoringService publishes store and checkpoint metrics.
	MonitoringService metrics.MonitoringService
}

// NewMetadataStoreConfig creates a default MetadataStoreConfiguration for the given region.
func NewMetadataStoreConfig(regionName string) *MetadataStoreConfiguration {
	return NewMetadataStoreConfigWithCredentials(regionName, nil)
}

// NewMetadataStoreConfigWithCredentials creates a default MetadataStoreConfiguration with specific DynamoDB credentials.
func NewMetadataStoreConfigWithCredentials(regionName string, dynamodbCreds *creds.Credentials) *MetadataStoreConfiguration {
	checkIsValueNotEmpty("RegionName", regionName)

	return &MetadataStoreConfiguration{
		TableName:               DefaultTableName,
		RegionName:              regionName,
		DynamoDBCredentials:     dynamodbCreds,
		ReadCapacity:            DefaultReadCapacity,
		WriteCapacity:           DefaultWriteCapacity,
		CreateTableRetries:      DefaultCreateTableRetries,
		CreateTableDelaySeconds: DefaultCreateTableDelaySeconds,
		MaxRetries:              DefaultMaxRetries,
		Logger:                  logger.GetDefaultLogger(),
		MonitoringService:       metrics.NoopMonitoringService{},
	}
}

// WithTableName to provide alternative metadata table in DynamoDB
func (c *MetadataStoreConfiguration) WithTableName(tableName string) *MetadataStoreConfiguration {
	checkIsValueNotEmpty("TableName", tableName)
	c.TableName = tableName
	return c
}

// WithDynamoDBEndpoint is used to provide an alternative DynamoDB endpoint
func (c *MetadataStoreConfiguration) WithDynamoDBEndpoint(dynamoDBEndpoint string) *MetadataStoreConfiguration {
	c.DynamoDBEndpoint = dynamoDBEndpoint
	return c
}

func (c *MetadataStoreConfiguration) WithCredentials(dynamodbCreds *creds.Credentials) *MetadataStoreConfiguration {
	c.DynamoDBCredentials = dynamodbCreds
	return c
}

func (c *MetadataStoreConfiguration) WithReadCapacity(readCapacity int) *MetadataStoreConfiguration {
	checkIsValuePositive("ReadCapacity", readCapacity)
	c.ReadCapacity = readCapacity
	return c
}

func (c *MetadataStoreConfiguration) WithWriteCapacity(writeCapacity int) *MetadataStoreConfiguration {
	checkIsValuePositive("WriteCapacity", writeCapacity)
	c.WriteCapacity = writeCapacity
	return c
}

func (c *MetadataStoreConfiguration) WithCreateTableRetries(retries int) *MetadataStoreConfiguration {
	checkIsValuePositive("CreateTableRetries", retries)
	c.CreateTableRetries = retries
	return c
}

func (c *MetadataStoreConfiguration) WithCreateTableDelaySeconds(delay int) *MetadataStoreConfiguration {
	checkIsValuePositive("CreateTableDelaySeconds", delay)
	c.CreateTableDelaySeconds = delay
	return c
}

func (c *MetadataStoreConfiguration) WithMaxRetries(maxRetries int) *MetadataStoreConfiguration {
	checkIsValuePositive("MaxRetries", maxRetries)
	if maxRetries > try.MaxRetries {
		log.Panicf("MaxRetries cannot exceed %v, actual: %v", try.MaxRetries, maxRetries)
	}
	c.MaxRetries = maxRetries
	return c
}

func (c *MetadataStoreConfiguration) WithLogger(logger logger.Logger) *MetadataStoreConfiguration {
	if logger == nil {
		log.Panic("Logger cannot be null")
	}
	c.Logger = logger
	return c
}

// WithMonitoringService sets the monitoring service to use to publish metrics.
// A nil service falls back to NoopMonitoringService.
func (c *MetadataStoreConfiguration) WithMonitoringService(mService metrics.MonitoringService) *MetadataStoreConfiguration {
	if mService == nil {
		mService = metrics.NoopMonitoringService{}
	}
	c.MonitoringService = mService
	return c
}

// CreateTableDelay is the delay between two table status polls.
func (c *MetadataStoreConfiguration) CreateTableDelay() time.Duration {
	return time.Duration(c.CreateTableDelaySeconds) * time.Second
}

// ActiveTableTimeout bounds how long store operations wait for the table to be provisioned.
func (c *MetadataStoreConfiguration) ActiveTableTimeout() time.Duration {
	return time.Duration(c.CreateTableRetries) * c.CreateTableDelay()
}

func empty(s string) bool {
	return len(strings.TrimSpace(s)) == 0
}

// checkIsValueNotEmpty makes sure the value is not empty.
func checkIsValueNotEmpty(key string, value string) {
	if empty(value) {
		// There is no point to continue for incorrect configuration. Fail fast!
		log.Panicf("Non-empty value expected for %v, actual: %v", key, value)
	}
}

// checkIsValuePositive makes sure the value is possitive.
func checkIsValuePositive(key string, value int) {
	if value <= 0 {
		// There is no point to continue for incorrect configuration. Fail fast!
		log.Panicf("Positive value expected for %v, actual: %v", key, value)
	}
}
