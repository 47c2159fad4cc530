package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mohitkumar/agentorchy/app"
	"github.com/mohitkumar/agentorchy/config"
	"github.com/mohitkumar/agentorchy/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cli struct {
	cfg config.Config
}

func setupFlags(cmd *cobra.Command) error {
	def := config.DefaultConfig()
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().Int("http-port", def.HttpPort, "http port for rest and websocket endpoints")
	cmd.Flags().String("log-level", def.LogLevel, "log level")
	cmd.Flags().Bool("dev-logging", false, "human readable logs")

	cmd.Flags().String("storage-impl", string(def.StorageType), "workflow storage: memory, redis or mongo")
	cmd.Flags().String("redis-addr", strings.Join(def.RedisConfig.Addrs, ","), "comma separated list of redis host:port")
	cmd.Flags().String("redis-password", "", "redis password")
	cmd.Flags().String("namespace", def.RedisConfig.Namespace, "namespace used in storage and pub/sub channels")
	cmd.Flags().String("mongo-uri", def.MongoConfig.URI, "mongo connection uri")
	cmd.Flags().String("mongo-database", def.MongoConfig.Database, "mongo database")

	cmd.Flags().String("broadcast", string(def.BroadcastType), "event broadcast: websocket, redis or none")
	cmd.Flags().String("analytics", string(def.AnalyticsType), "step analytics: prometheus, log or none")
	cmd.Flags().String("analytics-file", "analytics.log", "file used by the log analytics collector")

	cmd.Flags().String("executor", string(def.Executor.Strategy), "step executor: mock, script or generative")
	cmd.Flags().Duration("mock-min-delay", def.Executor.MockMinDelay, "minimum mock step duration")
	cmd.Flags().Duration("mock-max-delay", def.Executor.MockMaxDelay, "maximum mock step duration")
	cmd.Flags().Float64("mock-failure-rate", 0, "probability of a simulated step failure")
	cmd.Flags().String("generator-url", "", "chat completions endpoint for the generative executor")
	cmd.Flags().String("generator-model", "", "model requested from the generator")
	cmd.Flags().Float64("generator-rps", def.Executor.GeneratorRPS, "generator requests per second")
	cmd.Flags().Int("max-attempts", def.Executor.MaxAttempts, "generation attempts per step")
	cmd.Flags().String("interactive-actions", strings.Join(def.Executor.InteractiveActions, ","), "comma separated actions that wait for user input")

	cmd.Flags().String("agents-file", "", "agent definitions yaml, built in agents when empty")
	cmd.Flags().String("definitions-dir", "", "directory of workflow templates to seed")
	cmd.Flags().Int("min-prompt-length", def.Engine.MinPromptLength, "minimum accepted prompt length")
	cmd.Flags().String("default-sequence", def.Engine.DefaultSequence, "sequence used when none is requested")
	cmd.Flags().Int("history-limit", def.Engine.HistoryLimit, "messages kept per workflow")
	cmd.Flags().Int("step-workers", def.Engine.StepWorkers, "workers executing steps")
	cmd.Flags().Int("worker-capacity", def.Engine.WorkerCapacity, "queued steps per worker")
	cmd.Flags().Duration("step-retry-interval", def.Engine.StepRetryInterval, "first delay before retrying a step whose result could not be saved")
	cmd.Flags().Duration("retention", def.Engine.Retention, "how long finished workflows stay in memory")
	cmd.Flags().Bool("recover", false, "resume RUNNING workflows found in storage on start")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetEnvPrefix("AGENTORCHY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err = viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return err
			}
		}
	}

	c.cfg = config.DefaultConfig()
	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.LogLevel = viper.GetString("log-level")
	c.cfg.DevLogging = viper.GetBool("dev-logging")
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.RedisConfig.Addrs = config.SplitList(viper.GetString("redis-addr"))
	c.cfg.RedisConfig.Password = viper.GetString("redis-password")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.MongoConfig.URI = viper.GetString("mongo-uri")
	c.cfg.MongoConfig.Database = viper.GetString("mongo-database")
	c.cfg.BroadcastType = config.BroadcastType(viper.GetString("broadcast"))
	c.cfg.AnalyticsType = config.AnalyticsType(viper.GetString("analytics"))
	c.cfg.AnalyticsFile = viper.GetString("analytics-file")

	c.cfg.Executor.Strategy = config.ExecutorStrategy(viper.GetString("executor"))
	c.cfg.Executor.MockMinDelay = viper.GetDuration("mock-min-delay")
	c.cfg.Executor.MockMaxDelay = viper.GetDuration("mock-max-delay")
	c.cfg.Executor.MockFailureRate = viper.GetFloat64("mock-failure-rate")
	c.cfg.Executor.GeneratorURL = viper.GetString("generator-url")
	c.cfg.Executor.GeneratorModel = viper.GetString("generator-model")
	c.cfg.Executor.GeneratorAPIKey = viper.GetString("generator-api-key")
	c.cfg.Executor.GeneratorRPS = viper.GetFloat64("generator-rps")
	c.cfg.Executor.MaxAttempts = viper.GetInt("max-attempts")
	c.cfg.Executor.InteractiveActions = config.SplitList(viper.GetString("interactive-actions"))

	c.cfg.Registry.AgentsFile = viper.GetString("agents-file")
	c.cfg.Registry.DefinitionsDir = viper.GetString("definitions-dir")
	c.cfg.Engine.MinPromptLength = viper.GetInt("min-prompt-length")
	c.cfg.Engine.DefaultSequence = viper.GetString("default-sequence")
	c.cfg.Engine.HistoryLimit = viper.GetInt("history-limit")
	c.cfg.Engine.StepWorkers = viper.GetInt("step-workers")
	c.cfg.Engine.WorkerCapacity = viper.GetInt("worker-capacity")
	c.cfg.Engine.StepRetryInterval = viper.GetDuration("step-retry-interval")
	c.cfg.Engine.Retention = viper.GetDuration("retention")
	c.cfg.Engine.RecoverOnStart = viper.GetBool("recover")
	return logger.Init(c.cfg.LogLevel, c.cfg.DevLogging)
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	defer logger.Sync()
	a, err := app.New(c.cfg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "agentorchy",
		Short:   "Runs agent workflows and serves their API",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
