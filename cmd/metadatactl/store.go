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
package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/spring-operator/spring-integration-aws/clientlibrary/config"
	"github.com/spring-operator/spring-integration-aws/clientlibrary/metadata"
	"github.com/spring-operator/spring-integration-aws/clientlibrary/metrics"
	"github.com/spring-operator/spring-integration-aws/clientlibrary/metrics/cloudwatch"
	"github.com/spring-operator/spring-integration-aws/clientlibrary/metrics/prometheus"
	"github.com/spring-operator/spring-integration-aws/logger"
)

// openStore is the storeFactory used outside of tests.
func openStore(s settings, log logger.Logger) (*backend, error) {
	switch s.Backend {
	case "dynamodb", "redis", "memory":
	default:
		return nil, fmt.Errorf("unknown backend %q", s.Backend)
	}

	mService, err := newMonitoringService(s, log)
	if err != nil {
		return nil, err
	}
	if err := mService.Init(s.AppName); err != nil {
		return nil, fmt.Errorf("initializing %s metrics: %w", s.Metrics, err)
	}
	if err := mService.Start(); err != nil {
		return nil, fmt.Errorf("starting %s metrics: %w", s.Metrics, err)
	}

	switch s.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: s.RedisAddr})
		return &backend{
			store:    metadata.NewRedisMetadataStore(client, s.RedisPrefix),
			mService: mService,
			release: func() {
				_ = client.Close()
				mService.Shutdown()
			},
		}, nil
	case "memory":
		return &backend{store: metadata.NewSimpleMetadataStore(), mService: mService, release: mService.Shutdown}, nil
	}

	cfg := config.NewMetadataStoreConfig(s.Region).
		WithTableName(s.Table).
		WithDynamoDBEndpoint(s.Endpoint).
		WithCreateTableRetries(s.CreateRetries).
		WithCreateTableDelaySeconds(s.CreateDelay).
		WithLogger(log).
		WithMonitoringService(mService)

	store := metadata.NewDynamoDBMetadataStore(cfg)
	if err := store.Init(); err != nil {
		mService.Shutdown()
		return nil, err
	}
	return &backend{
		store:    store,
		mService: mService,
		release: func() {
			store.Shutdown()
			mService.Shutdown()
		},
	}, nil
}

func newMonitoringService(s settings, log logger.Logger) (metrics.MonitoringService, error) {
	switch s.Metrics {
	case "", "none":
		return metrics.NoopMonitoringService{}, nil
	case "prometheus":
		return prometheus.NewMonitoringService(s.MetricsAddr, s.Region, log), nil
	case "cloudwatch":
		return cloudwatch.NewMonitoringService(s.Region, nil, log), nil
	default:
		return nil, fmt.Errorf("unknown metrics backend %q", s.Metrics)
	}
}
