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
package metrics

// Store operation names used as metric labels.
const (
	OpGet         = "get"
	OpPut         = "put"
	OpPutIfAbsent = "putIfAbsent"
	OpReplace     = "replace"
	OpRemove      = "remove"
)

// MonitoringService publishes metadata store and checkpoint metrics.
type MonitoringService interface {
	Init(appName string) error
	Start() error
	RecordStoreOperationTime(op string, millis float64)
	IncrStoreOperationError(op string)
	IncrConditionalCheckFailed(op string)
	TableCreated(table string)
	CheckpointApplied(key string)
	CheckpointRejected(key string)
	Shutdown()
}

// NoopMonitoringService implements MonitoringService by doing nothing.
type NoopMonitoringService struct{}

func (NoopMonitoringService) Init(appName string) error { return nil }
func (NoopMonitoringService) Start() error              { return nil }
func (NoopMonitoringService) Shutdown()                 {}

func (NoopMonitoringService) RecordStoreOperationTime(op string, millis float64) {}
func (NoopMonitoringService) IncrStoreOperationError(op string)                  {}
func (NoopMonitoringService) IncrConditionalCheckFailed(op string)               {}
func (NoopMonitoringService) TableCreated(table string)                          {}
func (NoopMonitoringService) CheckpointApplied(key string)                       {}
func (NoopMonitoringService) CheckpointRejected(key string)                      {}
