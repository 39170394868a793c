package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/kernelfabric/fabric/pkg/fabricerr"
)

// Configuration is the complete top-level configuration for the fabric,
// loaded from a single JSON document.
type Configuration struct {
	Logging      LoggingConfig      `json:"logging"`
	ThreadPool   ThreadPoolConfig   `json:"thread_pool"`
	Security     SecurityConfig     `json:"security"`
	Recovery     RecoveryConfig     `json:"recovery"`
	Preload      PreloadConfig      `json:"preload"`
	LoadBalancer LoadBalancerConfig `json:"load_balancer"`
	Kernels      KernelsConfig      `json:"kernels"`
	Cache        CacheSection       `json:"cache"`
}

// LoggingConfig configures the fabric's structured logger.
type LoggingConfig struct {
	Level        string `json:"level"`
	ConsoleLevel string `json:"console_level"`
	FileLevel    string `json:"file_level"`
	LogFile      string `json:"log_file"`
	MaxFileSize  string `json:"max_file_size"`
	MaxFiles     int    `json:"max_files"`
	Pattern      string `json:"pattern"`
}

// ThreadPoolConfig configures the fabric's worker thread pool.
type ThreadPoolConfig struct {
	MinThreads int              `json:"min_threads"`
	MaxThreads string           `json:"max_threads"` // integer or "auto"
	QueueSize  int              `json:"queue_size"`
	StackSize  int              `json:"stack_size"`
	Platform   PlatformAffinity `json:"platform,omitempty"`
}

// PlatformAffinity carries optional OS-specific scheduling hints; the
// fabric neither validates nor interprets its contents.
type PlatformAffinity struct {
	CPUAffinity []int  `json:"cpu_affinity,omitempty"`
	NiceLevel   int    `json:"nice_level,omitempty"`
	Scheduler   string `json:"scheduler,omitempty"`
}

// ResolvedMaxThreads resolves ThreadPool.MaxThreads, mapping "auto" to
// runtime.NumCPU().
func (t ThreadPoolConfig) ResolvedMaxThreads() (int, error) {
	if strings.EqualFold(t.MaxThreads, "auto") || t.MaxThreads == "" {
		return runtime.NumCPU(), nil
	}
	n, err := strconv.Atoi(t.MaxThreads)
	if err != nil {
		return 0, fabricerr.Newf(fabricerr.ConfigInvalid, "thread_pool.max_threads %q is neither an integer nor \"auto\"", t.MaxThreads)
	}
	return n, nil
}

// SecurityConfig is carried but neither validated nor interpreted; policy
// storage itself is an out-of-scope collaborator.
type SecurityConfig struct {
	Policy            string `json:"policy"`
	AuditEnabled      bool   `json:"audit_enabled"`
	EncryptionEnabled bool   `json:"encryption_enabled"`
}

// RecoveryConfig configures the recovery manager.
type RecoveryConfig struct {
	MaxRecoveryPoints  int    `json:"max_recovery_points"`
	CheckpointInterval string `json:"checkpoint_interval"` // duration string, e.g. "30s"
	AutoRecovery       bool   `json:"auto_recovery"`
	StateValidation    bool   `json:"state_validation"`
	Compression        bool   `json:"compression"`
	StoragePath        string `json:"storage_path"`
	RetentionPeriod    string `json:"retention_period"` // duration string
	MaxPointSize       int64  `json:"max_point_size"`

	// S3Endpoint, S3AccessKeyID and S3SecretAccessKey configure the
	// optional remote mirror when StoragePath is an s3:// URI pointing at
	// an S3-compatible endpoint outside the default AWS credential chain
	// (e.g. a self-hosted object store). Leave all three empty to use the
	// SDK's default resolution (env vars, shared config, instance role).
	S3Endpoint        string `json:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `json:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `json:"s3_secret_access_key,omitempty"`
	S3ForcePathStyle  bool   `json:"s3_force_path_style,omitempty"`
}

// CheckpointIntervalDuration parses CheckpointInterval.
func (r RecoveryConfig) CheckpointIntervalDuration() (time.Duration, error) {
	return parseDurationField("recovery.checkpoint_interval", r.CheckpointInterval)
}

// RetentionPeriodDuration parses RetentionPeriod.
func (r RecoveryConfig) RetentionPeriodDuration() (time.Duration, error) {
	return parseDurationField("recovery.retention_period", r.RetentionPeriod)
}

// IsRemote reports whether StoragePath names a remote (S3) store.
func (r RecoveryConfig) IsRemote() bool {
	return strings.HasPrefix(r.StoragePath, "s3://")
}

// PreloadConfig configures the predictive preload manager.
type PreloadConfig struct {
	MaxQueueSize        int     `json:"max_queue_size"`
	MaxConcurrentTasks  int     `json:"max_concurrent_tasks"`
	PredictionThreshold float64 `json:"prediction_threshold"`
	AdaptivePrediction  bool    `json:"adaptive_prediction"`
	MetricsCollection   bool    `json:"metrics_collection"`
}

// Strategy identifies a load balancing strategy.
type Strategy string

const (
	StrategyResourceAware    Strategy = "resource_aware"
	StrategyWorkloadSpecific Strategy = "workload_specific"
	StrategyHybridAdaptive   Strategy = "hybrid_adaptive"
	StrategyLeastLoaded      Strategy = "least_loaded"
	StrategyRoundRobin       Strategy = "round_robin"
)

var validStrategies = map[Strategy]bool{
	StrategyResourceAware:    true,
	StrategyWorkloadSpecific: true,
	StrategyHybridAdaptive:   true,
	StrategyLeastLoaded:      true,
	StrategyRoundRobin:       true,
}

// LoadBalancerConfig configures the load balancer.
type LoadBalancerConfig struct {
	Strategy           Strategy           `json:"strategy"`
	ResourceWeights    ResourceWeights    `json:"resource_weights"`
	AdaptiveThresholds AdaptiveThresholds `json:"adaptive_thresholds"`
}

// ResourceWeights weights the four resource axes the resource-aware
// strategy scores against.
type ResourceWeights struct {
	CPU     float64 `json:"cpu"`
	Memory  float64 `json:"memory"`
	Network float64 `json:"network"`
	Energy  float64 `json:"energy"`
}

// AdaptiveThresholds drives the hybrid-adaptive strategy's switch between
// resource-aware and workload-specific scoring.
type AdaptiveThresholds struct {
	Resource float64 `json:"resource"`
	Workload float64 `json:"workload"`
}

// KernelPoolConfig describes one tier of kernels to provision at startup.
type KernelPoolConfig struct {
	Count    int    `json:"count"`
	IDPrefix string `json:"id_prefix"`
}

// KernelsConfig configures the kernels the orchestrator provisions.
type KernelsConfig struct {
	Core          KernelPoolConfig `json:"core"`
	Micro         KernelPoolConfig `json:"micro"`
	Orchestration KernelPoolConfig `json:"orchestration"`
}

// CacheSection wraps the dynamic cache's configuration under the
// spec-mandated "cache.dynamic" key.
type CacheSection struct {
	Dynamic DynamicCacheConfig `json:"dynamic"`
}

// DynamicCacheConfig configures the dynamic LRU+TTL cache.
type DynamicCacheConfig struct {
	InitialSize    int64  `json:"initial_size"`
	MaxSize        int64  `json:"max_size"`
	TTL            string `json:"ttl"` // duration string
	EvictionPolicy string `json:"eviction_policy"`
}

// TTLDuration parses TTL.
func (d DynamicCacheConfig) TTLDuration() (time.Duration, error) {
	return parseDurationField("cache.dynamic.ttl", d.TTL)
}

func parseDurationField(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fabricerr.Newf(fabricerr.ConfigInvalid, "%s %q is not a valid duration: %v", field, value, err)
	}
	return d, nil
}

// Default returns the configuration the fabric starts with absent an
// on-disk config file.
func Default() *Configuration {
	return &Configuration{
		Logging: LoggingConfig{
			Level:        "INFO",
			ConsoleLevel: "INFO",
			FileLevel:    "DEBUG",
			MaxFileSize:  "100MB",
			MaxFiles:     5,
			Pattern:      "text",
		},
		ThreadPool: ThreadPoolConfig{
			MinThreads: 2,
			MaxThreads: "auto",
			QueueSize:  1024,
			StackSize:  0,
		},
		Security: SecurityConfig{
			Policy:            "default",
			AuditEnabled:      false,
			EncryptionEnabled: false,
		},
		Recovery: RecoveryConfig{
			MaxRecoveryPoints:  10,
			CheckpointInterval: "30s",
			AutoRecovery:       true,
			StateValidation:    true,
			Compression:        true,
			StoragePath:        "./recovery",
			RetentionPeriod:    "168h",
			MaxPointSize:       64 * 1024 * 1024,
		},
		Preload: PreloadConfig{
			MaxQueueSize:        1000,
			MaxConcurrentTasks:  4,
			PredictionThreshold: 0.6,
			AdaptivePrediction:  true,
			MetricsCollection:   true,
		},
		LoadBalancer: LoadBalancerConfig{
			Strategy: StrategyHybridAdaptive,
			ResourceWeights: ResourceWeights{
				CPU: 0.3, Memory: 0.25, Network: 0.25, Energy: 0.2,
			},
			AdaptiveThresholds: AdaptiveThresholds{
				Resource: 0.8, Workload: 0.7,
			},
		},
		Kernels: KernelsConfig{
			Core:          KernelPoolConfig{Count: 4, IDPrefix: "core"},
			Micro:         KernelPoolConfig{Count: 8, IDPrefix: "micro"},
			Orchestration: KernelPoolConfig{Count: 1, IDPrefix: "orch"},
		},
		Cache: CacheSection{
			Dynamic: DynamicCacheConfig{
				InitialSize:    64 * 1024 * 1024,
				MaxSize:        512 * 1024 * 1024,
				TTL:            "5m",
				EvictionPolicy: "lru",
			},
		},
	}
}

// LoadFromFile loads configuration from a JSON file.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fabricerr.Newf(fabricerr.ConfigInvalid, "read config file: %v", err).WithCause(err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return fabricerr.Newf(fabricerr.ConfigInvalid, "parse config file: %v", err).WithCause(err)
	}

	return nil
}

// LoadFromEnv overrides select fields from environment variables, following
// the fabric's FABRIC_ prefix convention.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("FABRIC_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv("FABRIC_LOG_FILE"); val != "" {
		c.Logging.LogFile = val
	}
	if val := os.Getenv("FABRIC_THREAD_POOL_MAX"); val != "" {
		c.ThreadPool.MaxThreads = val
	}
	if val := os.Getenv("FABRIC_RECOVERY_STORAGE_PATH"); val != "" {
		c.Recovery.StoragePath = val
	}
	if val := os.Getenv("FABRIC_LOAD_BALANCER_STRATEGY"); val != "" {
		c.LoadBalancer.Strategy = Strategy(val)
	}
	if val := os.Getenv("FABRIC_AUDIT_ENABLED"); val != "" {
		c.Security.AuditEnabled = strings.EqualFold(val, "true")
	}
	return nil
}

// SaveToFile writes the configuration to filename as indented JSON.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fabricerr.Newf(fabricerr.ConfigInvalid, "marshal config: %v", err).WithCause(err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fabricerr.Newf(fabricerr.ConfigInvalid, "create config directory: %v", err).WithCause(err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fabricerr.Newf(fabricerr.ConfigInvalid, "write config file: %v", err).WithCause(err)
	}

	return nil
}

var validLogLevels = map[string]bool{"TRACE": true, "DEBUG": true, "INFO": true, "WARN": true, "ERROR": true, "FATAL": true}

// Validate checks every structural invariant the fabric depends on,
// wrapping every problem found as ConfigInvalid.
func (c *Configuration) Validate() error {
	var problems []string

	if c.Logging.Level != "" && !validLogLevels[strings.ToUpper(c.Logging.Level)] {
		problems = append(problems, fmt.Sprintf("logging.level %q is not a recognized level", c.Logging.Level))
	}

	if c.ThreadPool.MinThreads < 0 {
		problems = append(problems, "thread_pool.min_threads must be >= 0")
	}
	if _, err := c.ThreadPool.ResolvedMaxThreads(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.ThreadPool.QueueSize <= 0 {
		problems = append(problems, "thread_pool.queue_size must be > 0")
	}

	if c.Recovery.MaxRecoveryPoints <= 0 {
		problems = append(problems, "recovery.max_recovery_points must be > 0")
	}
	if _, err := c.Recovery.CheckpointIntervalDuration(); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := c.Recovery.RetentionPeriodDuration(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Recovery.StoragePath == "" {
		problems = append(problems, "recovery.storage_path must not be empty")
	}

	if c.Preload.MaxQueueSize <= 0 {
		problems = append(problems, "preload.max_queue_size must be > 0")
	}
	if c.Preload.PredictionThreshold < 0 || c.Preload.PredictionThreshold > 1 {
		problems = append(problems, "preload.prediction_threshold must be within [0,1]")
	}

	if !validStrategies[c.LoadBalancer.Strategy] {
		problems = append(problems, fmt.Sprintf("load_balancer.strategy %q is not a recognized strategy", c.LoadBalancer.Strategy))
	}

	if c.Kernels.Core.Count < 0 || c.Kernels.Micro.Count < 0 || c.Kernels.Orchestration.Count < 0 {
		problems = append(problems, "kernels.*.count must be >= 0")
	}

	if c.Cache.Dynamic.MaxSize <= 0 {
		problems = append(problems, "cache.dynamic.max_size must be > 0")
	}
	if c.Cache.Dynamic.InitialSize > c.Cache.Dynamic.MaxSize {
		problems = append(problems, "cache.dynamic.initial_size must not exceed max_size")
	}
	if _, err := c.Cache.Dynamic.TTLDuration(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Cache.Dynamic.EvictionPolicy != "" && c.Cache.Dynamic.EvictionPolicy != "lru" {
		problems = append(problems, fmt.Sprintf("cache.dynamic.eviction_policy %q is not supported (only \"lru\")", c.Cache.Dynamic.EvictionPolicy))
	}

	if len(problems) == 0 {
		return nil
	}
	return fabricerr.Newf(fabricerr.ConfigInvalid, "invalid configuration: %s", strings.Join(problems, "; "))
}
