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
package prometheus

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spring-operator/spring-integration-aws/logger"
)

// MonitoringService publishes metadata store metrics to Prometheus. Collectors
// are registered on a private registry so several stores can live in one
// process.
type MonitoringService struct {
	listenAddress string
	namespace     string
	region        string
	logger        logger.Logger
	registry      *prom.Registry
	server        *http.Server

	operationTime          *prom.HistogramVec
	operationErrors        *prom.CounterVec
	conditionalCheckFailed *prom.CounterVec
	tablesCreated          *prom.CounterVec
	checkpointsApplied     *prom.CounterVec
	checkpointsRejected    *prom.CounterVec
}

// NewMonitoringService returns a Monitoring service publishing metrics to Prometheus.
func NewMonitoringService(listenAddress, region string, logger logger.Logger) *MonitoringService {
	return &MonitoringService{
		listenAddress: listenAddress,
		region:        region,
		logger:        logger,
		registry:      prom.NewRegistry(),
	}
}

func (p *MonitoringService) Init(appName string) error {
	p.namespace = appName

	p.operationTime = prom.NewHistogramVec(prom.HistogramOpts{
		Name: p.namespace + `_store_operation_duration_seconds`,
		Help: "The time taken by a metadata store operation",
	}, []string{"operation", "region"})
	p.operationErrors = prom.NewCounterVec(prom.CounterOpts{
		Name: p.namespace + `_store_operation_errors`,
		Help: "Number of metadata store operations that failed",
	}, []string{"operation", "region"})
	p.conditionalCheckFailed = prom.NewCounterVec(prom.CounterOpts{
		Name: p.namespace + `_conditional_check_failed`,
		Help: "Number of conditional writes rejected by the backing store",
	}, []string{"operation", "region"})
	p.tablesCreated = prom.NewCounterVec(prom.CounterOpts{
		Name: p.namespace + `_tables_created`,
		Help: "Number of backing tables provisioned",
	}, []string{"table", "region"})
	p.checkpointsApplied = prom.NewCounterVec(prom.CounterOpts{
		Name: p.namespace + `_checkpoints_applied`,
		Help: "Number of checkpoints written to the store",
	}, []string{"key"})
	p.checkpointsRejected = prom.NewCounterVec(prom.CounterOpts{
		Name: p.namespace + `_checkpoints_rejected`,
		Help: "Number of checkpoints that were stale, lost a race or arrived after close",
	}, []string{"key"})

	collectors := []prom.Collector{
		p.operationTime,
		p.operationErrors,
		p.conditionalCheckFailed,
		p.tablesCreated,
		p.checkpointsApplied,
		p.checkpointsRejected,
	}
	for _, c := range collectors {
		if err := p.registry.Register(c); err != nil {
			return err
		}
	}

	return nil
}

// Handler exposes the registry in the Prometheus text format.
func (p *MonitoringService) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *MonitoringService) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	p.server = &http.Server{Addr: p.listenAddress, Handler: mux}

	go func() {
		p.logger.Infof("Starting Prometheus listener on %s", p.listenAddress)
		err := p.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			p.logger.Errorf("Error starting Prometheus metrics endpoint. %+v", err)
		}
		p.logger.Infof("Stopped metrics server")
	}()

	return nil
}

func (p *MonitoringService) Shutdown() {
	if p.server != nil {
		_ = p.server.Close()
	}
}

// RecordStoreOperationTime observes op latency. Like the other recorders it
// drops the sample when called before Init.
func (p *MonitoringService) RecordStoreOperationTime(op string, millis float64) {
	if p.operationTime == nil {
		return
	}
	p.operationTime.With(prom.Labels{"operation": op, "region": p.region}).Observe(millis / 1000)
}

func (p *MonitoringService) IncrStoreOperationError(op string) {
	if p.operationErrors == nil {
		return
	}
	p.operationErrors.With(prom.Labels{"operation": op, "region": p.region}).Inc()
}

func (p *MonitoringService) IncrConditionalCheckFailed(op string) {
	if p.conditionalCheckFailed == nil {
		return
	}
	p.conditionalCheckFailed.With(prom.Labels{"operation": op, "region": p.region}).Inc()
}

func (p *MonitoringService) TableCreated(table string) {
	if p.tablesCreated == nil {
		return
	}
	p.tablesCreated.With(prom.Labels{"table": table, "region": p.region}).Inc()
}

func (p *MonitoringService) CheckpointApplied(key string) {
	if p.checkpointsApplied == nil {
		return
	}
	p.checkpointsApplied.With(prom.Labels{"key": key}).Inc()
}

func (p *MonitoringService) CheckpointRejected(key string) {
	if p.checkpointsRejected == nil {
		return
	}
	p.checkpointsRejected.With(prom.Labels{"key": key}).Inc()
}
