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
package zerolog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spring-operator/spring-integration-aws/logger"
)

func TestZeroLogLoggerWithConfig(t *testing.T) {
	config := logger.Configuration{
		EnableConsole:     true,
		ConsoleLevel:      logger.Debug,
		ConsoleJSONFormat: false,
		EnableFile:        true,
		FileLevel:         logger.Info,
		Filename:          filepath.Join(t.TempDir(), "metadata-zerolog.log"),
	}

	log := NewZerologLoggerWithConfig(config)
	assert.NotNil(t, log)

	contextLogger := log.WithFields(logger.Fields{"key": "group:stream:shardId-000000000001"})
	contextLogger.Debugf("Reading checkpoint")
	contextLogger.Infof("Checkpoint %s rejected as stale", "99")
}

func TestZeroLogLogger(t *testing.T) {
	log := NewZerologLogger()

	contextLogger := log.WithFields(logger.Fields{"table": "SpringIntegrationMetadataStore"})
	contextLogger.Infof("No table %s. Creating one...", "SpringIntegrationMetadataStore")
}

func TestZeroLogLevel(t *testing.T) {
	assert.Equal(t, "debug", zeroLevel(logger.Debug).String())
	assert.Equal(t, "info", zeroLevel("unknown").String())
	assert.Equal(t, "error", zeroLevel(logger.Error).String())
}
