package config

import (
	"strings"
	"time"

	"github.com/mohitkumar/agentorchy/util"
)

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"
const STORAGE_TYPE_MONGO StorageType = "mongo"

type BroadcastType string

const BROADCAST_TYPE_WEBSOCKET BroadcastType = "websocket"
const BROADCAST_TYPE_REDIS BroadcastType = "redis"
const BROADCAST_TYPE_NONE BroadcastType = "none"

type ExecutorStrategy string

const EXECUTOR_MOCK ExecutorStrategy = "mock"
const EXECUTOR_GENERATIVE ExecutorStrategy = "generative"
const EXECUTOR_SCRIPT ExecutorStrategy = "script"

type AnalyticsType string

const ANALYTICS_LOG AnalyticsType = "log"
const ANALYTICS_PROMETHEUS AnalyticsType = "prometheus"
const ANALYTICS_NONE AnalyticsType = "none"

type Config struct {
	HttpPort      int
	LogLevel      string
	DevLogging    bool
	StorageType   StorageType
	RedisConfig   RedisStorageConfig
	MongoConfig   MongoStorageConfig
	BroadcastType BroadcastType
	AnalyticsType AnalyticsType
	AnalyticsFile string
	Executor      ExecutorConfig
	Engine        EngineConfig
	Registry      RegistryConfig
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
	Password  string
	PoolSize  int
}

type MongoStorageConfig struct {
	URI        string
	Database   string
	Collection string
}

type ExecutorConfig struct {
	Strategy           ExecutorStrategy
	MockMinDelay       time.Duration
	MockMaxDelay       time.Duration
	MockFailureRate    float64
	GeneratorURL       string
	GeneratorModel     string
	GeneratorAPIKey    string
	GeneratorRPS       float64
	RequiredSections   []string
	MaxAttempts        int
	RetryInterval      time.Duration
	InteractiveActions []string
}

type EngineConfig struct {
	MinPromptLength   int
	DefaultSequence   string
	HistoryLimit      int
	Partitions        int
	StepWorkers       int
	WorkerCapacity    int
	StepRetryInterval time.Duration
	Retention         time.Duration
	JanitorInterval   time.Duration
	AutoSubscribe     bool
	RecoverOnStart    bool
}

type RegistryConfig struct {
	AgentsFile     string
	DefinitionsDir string
}

func DefaultConfig() Config {
	return Config{
		HttpPort:      8080,
		LogLevel:      "info",
		StorageType:   STORAGE_TYPE_INMEM,
		BroadcastType: BROADCAST_TYPE_WEBSOCKET,
		AnalyticsType: ANALYTICS_PROMETHEUS,
		RedisConfig: RedisStorageConfig{
			Addrs:     []string{"localhost:6379"},
			Namespace: "agentorchy",
		},
		MongoConfig: MongoStorageConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "agentorchy",
			Collection: "workflows",
		},
		Executor: ExecutorConfig{
			Strategy:           EXECUTOR_MOCK,
			MockMinDelay:       50 * time.Millisecond,
			MockMaxDelay:       200 * time.Millisecond,
			RequiredSections:   []string{"Context", "Instructions", "Task"},
			MaxAttempts:        2,
			RetryInterval:      500 * time.Millisecond,
			GeneratorRPS:       2,
			InteractiveActions: []string{"classify-enhancement-scope", "elicit-requirements"},
		},
		Engine: EngineConfig{
			MinPromptLength:   10,
			DefaultSequence:   "FULL_STACK",
			HistoryLimit:      1000,
			Partitions:        271,
			StepWorkers:       8,
			WorkerCapacity:    128,
			StepRetryInterval: 200 * time.Millisecond,
			Retention:         30 * time.Minute,
			JanitorInterval:   time.Minute,
			AutoSubscribe:     true,
		},
	}
}

// SplitList parses a comma separated flag value, dropping blanks and repeats.
func SplitList(v string) []string {
	out := make([]string, 0)
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" && !util.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
