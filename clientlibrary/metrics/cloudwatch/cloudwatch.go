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
package cloudwatch

import (
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	cwatch "github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/cloudwatch/cloudwatchiface"

	"github.com/spring-operator/spring-integration-aws/logger"
)

// DefaultResolutionSec is the flush interval used when none is configured.
// A 1 second resolution turns on high resolution metrics, which are billed separately.
const DefaultResolutionSec = 60

// MonitoringService buffers metadata store metrics in memory and publishes
// them to CloudWatch once per resolution interval.
type MonitoringService struct {
	Namespace     string
	Region        string
	ResolutionSec int

	credentials *credentials.Credentials
	logger      logger.Logger
	svc         cloudwatchiface.CloudWatchAPI

	// mu guards the buffers only; it is never held while publishing.
	mu     sync.Mutex
	buffer *buffers

	// flushMu serializes flushes so failed batches merge back in order.
	flushMu sync.Mutex

	stop         chan struct{}
	shutdownOnce sync.Once
	waitGroup    sync.WaitGroup
}

type buffers struct {
	operations    map[string]*operationMetrics
	checkpoints   map[string]*checkpointMetrics
	tablesCreated map[string]int64
}

type operationMetrics struct {
	timeMillis             []float64
	errors                 int64
	conditionalCheckFailed int64
}

type checkpointMetrics struct {
	applied  int64
	rejected int64
}

func newBuffers() *buffers {
	return &buffers{
		operations:    make(map[string]*operationMetrics),
		checkpoints:   make(map[string]*checkpointMetrics),
		tablesCreated: make(map[string]int64),
	}
}

func (b *buffers) operation(op string) *operationMetrics {
	m, ok := b.operations[op]
	if !ok {
		m = &operationMetrics{}
		b.operations[op] = m
	}
	return m
}

func (b *buffers) checkpoint(key string) *checkpointMetrics {
	m, ok := b.checkpoints[key]
	if !ok {
		m = &checkpointMetrics{}
		b.checkpoints[key] = m
	}
	return m
}

// NewMonitoringService returns a CloudWatch backed MonitoringService. creds may
// be nil to use the default credential chain.
func NewMonitoringService(region string, creds *credentials.Credentials, logger logger.Logger) *MonitoringService {
	return &MonitoringService{
		Region:        region,
		ResolutionSec: DefaultResolutionSec,
		credentials:   creds,
		logger:        logger,
		buffer:        newBuffers(),
		stop:          make(chan struct{}),
	}
}

// WithCloudWatch is used to provide CloudWatch service
func (cw *MonitoringService) WithCloudWatch(svc cloudwatchiface.CloudWatchAPI) *MonitoringService {
	cw.svc = svc
	return cw
}

func (cw *MonitoringService) Init(appName string) error {
	cw.Namespace = appName
	if cw.ResolutionSec <= 0 {
		cw.ResolutionSec = DefaultResolutionSec
	}

	if cw.svc == nil {
		s, err := session.NewSession(&aws.Config{
			Region:      aws.String(cw.Region),
			Credentials: cw.credentials,
		})
		if err != nil {
			cw.logger.Errorf("Error in creating session for cloudwatch. %+v", err)
			return err
		}
		cw.svc = cwatch.New(s)
	}
	return nil
}

func (cw *MonitoringService) Start() error {
	cw.waitGroup.Add(1)
	go cw.flushDaemon()
	return nil
}

// Shutdown stops the flush daemon and publishes whatever is still buffered.
// Calls after the first are no-ops.
func (cw *MonitoringService) Shutdown() {
	cw.shutdownOnce.Do(func() {
		cw.logger.Infof("Shutting down cloudwatch metrics system...")
		close(cw.stop)
		cw.waitGroup.Wait()
		cw.flush()
	})
}

func (cw *MonitoringService) flushDaemon() {
	defer cw.waitGroup.Done()

	ticker := time.NewTicker(time.Duration(cw.ResolutionSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-cw.stop:
			return
		case <-ticker.C:
			cw.flush()
		}
	}
}

// flush swaps in empty buffers and publishes the previous ones without holding
// mu. Batches that fail to publish are merged back for the next flush.
func (cw *MonitoringService) flush() {
	cw.flushMu.Lock()
	defer cw.flushMu.Unlock()

	if cw.svc == nil {
		return
	}

	cw.mu.Lock()
	pending := cw.buffer
	cw.buffer = newBuffers()
	cw.mu.Unlock()

	failed := newBuffers()
	now := time.Now()

	for op, m := range pending.operations {
		if !cw.put(operationData(op, m, now)) {
			failed.operations[op] = m
		}
	}

	for key, m := range pending.checkpoints {
		if !cw.put(checkpointData(key, m, now)) {
			failed.checkpoints[key] = m
		}
	}

	for table, count := range pending.tablesCreated {
		data := []*cwatch.MetricDatum{
			{
				Dimensions: []*cwatch.Dimension{{Name: aws.String("TableName"), Value: aws.String(table)}},
				MetricName: aws.String("MetadataStore.TableCreated"),
				Unit:       aws.String(cwatch.StandardUnitCount),
				Timestamp:  &now,
				Value:      aws.Float64(float64(count)),
			},
		}
		if !cw.put(data) {
			failed.tablesCreated[table] = count
		}
	}

	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.buffer.merge(failed)
}

func (b *buffers) merge(other *buffers) {
	for op, m := range other.operations {
		current := b.operation(op)
		current.timeMillis = append(m.timeMillis, current.timeMillis...)
		current.errors += m.errors
		current.conditionalCheckFailed += m.conditionalCheckFailed
	}
	for key, m := range other.checkpoints {
		current := b.checkpoint(key)
		current.applied += m.applied
		current.rejected += m.rejected
	}
	for table, count := range other.tablesCreated {
		b.tablesCreated[table] += count
	}
}

func operationData(op string, m *operationMetrics, now time.Time) []*cwatch.MetricDatum {
	dims := []*cwatch.Dimension{
		{Name: aws.String("Operation"), Value: aws.String(op)},
	}
	data := []*cwatch.MetricDatum{
		{
			Dimensions: dims,
			MetricName: aws.String("MetadataStore.Errors"),
			Unit:       aws.String(cwatch.StandardUnitCount),
			Timestamp:  &now,
			Value:      aws.Float64(float64(m.errors)),
		},
		{
			Dimensions: dims,
			MetricName: aws.String("MetadataStore.ConditionalCheckFailed"),
			Unit:       aws.String(cwatch.StandardUnitCount),
			Timestamp:  &now,
			Value:      aws.Float64(float64(m.conditionalCheckFailed)),
		},
	}
	if len(m.timeMillis) > 0 {
		data = append(data, &cwatch.MetricDatum{
			Dimensions: dims,
			MetricName: aws.String("MetadataStore.Time"),
			Unit:       aws.String(cwatch.StandardUnitMilliseconds),
			Timestamp:  &now,
			StatisticValues: &cwatch.StatisticSet{
				SampleCount: aws.Float64(float64(len(m.timeMillis))),
				Sum:         sumFloat64(m.timeMillis),
				Maximum:     maxFloat64(m.timeMillis),
				Minimum:     minFloat64(m.timeMillis),
			},
		})
	}
	return data
}

func checkpointData(key string, m *checkpointMetrics, now time.Time) []*cwatch.MetricDatum {
	dims := []*cwatch.Dimension{
		{Name: aws.String("CheckpointKey"), Value: aws.String(key)},
	}
	return []*cwatch.MetricDatum{
		{
			Dimensions: dims,
			MetricName: aws.String("Checkpoint.Applied"),
			Unit:       aws.String(cwatch.StandardUnitCount),
			Timestamp:  &now,
			Value:      aws.Float64(float64(m.applied)),
		},
		{
			Dimensions: dims,
			MetricName: aws.String("Checkpoint.Rejected"),
			Unit:       aws.String(cwatch.StandardUnitCount),
			Timestamp:  &now,
			Value:      aws.Float64(float64(m.rejected)),
		},
	}
}

func (cw *MonitoringService) put(data []*cwatch.MetricDatum) bool {
	_, err := cw.svc.PutMetricData(&cwatch.PutMetricDataInput{
		Namespace:  aws.String(cw.Namespace),
		MetricData: data,
	})
	if err != nil {
		cw.logger.Errorf("Error in publishing cloudwatch metrics. Error: %+v", err)
		return false
	}
	return true
}

func (cw *MonitoringService) RecordStoreOperationTime(op string, millis float64) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	m := cw.buffer.operation(op)
	m.timeMillis = append(m.timeMillis, millis)
}

func (cw *MonitoringService) IncrStoreOperationError(op string) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.buffer.operation(op).errors++
}

func (cw *MonitoringService) IncrConditionalCheckFailed(op string) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.buffer.operation(op).conditionalCheckFailed++
}

func (cw *MonitoringService) TableCreated(table string) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.buffer.tablesCreated[table]++
}

func (cw *MonitoringService) CheckpointApplied(key string) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.buffer.checkpoint(key).applied++
}

func (cw *MonitoringService) CheckpointRejected(key string) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.buffer.checkpoint(key).rejected++
}

func sumFloat64(slice []float64) *float64 {
	sum := float64(0)
	for _, num := range slice {
		sum += num
	}
	return &sum
}

func maxFloat64(slice []float64) *float64 {
	if len(slice) < 1 {
		return aws.Float64(0)
	}
	max := slice[0]
	for _, num := range slice {
		if num > max {
			max = num
		}
	}
	return &max
}

func minFloat64(slice []float64) *float64 {
	if len(slice) < 1 {
		return aws.Float64(0)
	}
	min := slice[0]
	for _, num := range slice {
		if num < min {
			min = num
		}
	}
	return &min
}
