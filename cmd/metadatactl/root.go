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
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spring-operator/spring-integration-aws/clientlibrary/config"
	"github.com/spring-operator/spring-integration-aws/clientlibrary/metadata"
	"github.com/spring-operator/spring-integration-aws/clientlibrary/metrics"
	"github.com/spring-operator/spring-integration-aws/clientlibrary/utils"
	"github.com/spring-operator/spring-integration-aws/logger"
	"github.com/spring-operator/spring-integration-aws/logger/zap"
	"github.com/spring-operator/spring-integration-aws/logger/zerolog"
)

const envPrefix = "METADATA"

// settings is the resolved configuration of one invocation. Flags win over
// METADATA_* environment variables, which win over the config file.
type settings struct {
	Backend       string
	Region        string
	Table         string
	Endpoint      string
	CreateRetries int
	CreateDelay   int
	RedisAddr     string
	RedisPrefix   string
	LogFormat     string
	LogLevel      string
	LogFile       string
	Metrics       string
	MetricsAddr   string
	AppName       string
}

// backend is an opened store with the monitoring service reporting on it.
type backend struct {
	store    metadata.ConcurrentMetadataStore
	mService metrics.MonitoringService
	release  func()
}

// storeFactory opens the store selected by the settings.
type storeFactory func(s settings, log logger.Logger) (*backend, error)

type application struct {
	viper   *viper.Viper
	factory storeFactory

	settings settings
	log      logger.Logger
	backend  *backend
}

func newRootCommand(factory storeFactory) *cobra.Command {
	app := &application{viper: viper.New(), factory: factory}

	root := &cobra.Command{
		Use:               "metadatactl",
		Short:             "Inspect and edit metadata store entries and shard checkpoints",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: app.setup,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Config file (yaml, json or toml)")
	flags.String("backend", "dynamodb", "Metadata store backend: dynamodb, redis or memory")
	flags.String("region", "us-west-2", "AWS region of the DynamoDB table")
	flags.String("table", config.DefaultTableName, "DynamoDB table name")
	flags.String("endpoint", "", "Alternative DynamoDB endpoint")
	flags.Int("create-retries", config.DefaultCreateTableRetries, "Table status polls while the table is being created")
	flags.Int("create-delay", config.DefaultCreateTableDelaySeconds, "Seconds between two table status polls")
	flags.String("redis-addr", "localhost:6379", "Redis address")
	flags.String("redis-prefix", metadata.DefaultRedisKeyPrefix, "Redis key prefix")
	flags.String("log-format", "logrus", "Logger implementation: logrus, zap or zerolog")
	flags.String("log-level", logger.Warn, "Log level")
	flags.String("log-file", "", "Also write logs to this rotated file")
	flags.String("metrics", "none", "Metrics backend: none, prometheus or cloudwatch")
	flags.String("metrics-addr", ":8080", "Listen address of the prometheus endpoint")
	flags.String("app-name", "metadatactl", "Application name used as metrics namespace")

	_ = app.viper.BindPFlags(flags)
	app.viper.SetEnvPrefix(envPrefix)
	app.viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	app.viper.AutomaticEnv()

	root.AddCommand(
		app.getCmd(),
		app.putCmd(),
		app.putIfAbsentCmd(),
		app.replaceCmd(),
		app.removeCmd(),
		app.checkpointCmd(),
	)

	// PersistentPostRun is skipped when RunE fails, so release from RunE itself.
	for _, c := range root.Commands() {
		run := c.RunE
		c.RunE = func(cmd *cobra.Command, args []string) error {
			defer app.teardown()
			return run(cmd, args)
		}
	}
	return root
}

func (app *application) setup(*cobra.Command, []string) error {
	v := app.viper
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", file, err)
		}
	}

	app.settings = settings{
		Backend:       v.GetString("backend"),
		Region:        v.GetString("region"),
		Table:         v.GetString("table"),
		Endpoint:      v.GetString("endpoint"),
		CreateRetries: v.GetInt("create-retries"),
		CreateDelay:   v.GetInt("create-delay"),
		RedisAddr:     v.GetString("redis-addr"),
		RedisPrefix:   v.GetString("redis-prefix"),
		LogFormat:     v.GetString("log-format"),
		LogLevel:      v.GetString("log-level"),
		LogFile:       v.GetString("log-file"),
		Metrics:       v.GetString("metrics"),
		MetricsAddr:   v.GetString("metrics-addr"),
		AppName:       v.GetString("app-name"),
	}

	log, err := newLogger(app.settings)
	if err != nil {
		return err
	}
	app.log = log.WithFields(logger.Fields{"instance": utils.MustNewUUID(), "backend": app.settings.Backend})

	b, err := app.factory(app.settings, app.log)
	if err != nil {
		return err
	}
	app.backend = b
	return nil
}

func (app *application) teardown() {
	b := app.backend
	app.backend = nil
	if b != nil && b.release != nil {
		b.release()
	}
}

func newLogger(s settings) (logger.Logger, error) {
	cfg := logger.Configuration{
		EnableConsole:  true,
		ConsoleLevel:   s.LogLevel,
		EnableFile:     s.LogFile != "",
		FileLevel:      s.LogLevel,
		FileJSONFormat: true,
		Filename:       s.LogFile,
	}

	switch s.LogFormat {
	case "logrus":
		return logger.NewLogrusLoggerWithConfig(cfg), nil
	case "zap":
		return zap.NewZapLoggerWithConfig(cfg), nil
	case "zerolog":
		return zerolog.NewZerologLoggerWithConfig(cfg), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", s.LogFormat)
	}
}
