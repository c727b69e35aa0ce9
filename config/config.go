/*
Package config reads the settings of the clustermq demo: which topology to run, its endpoints and
sizes, logging and metrics. Settings come from a YAML file, then from CLUSTERMQ_* environment
variables (a .env file is loaded into the environment first).
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dermesser/clustermq/log"
	"github.com/dermesser/clustermq/topology"
)

// Topologies the demo can run
const (
	TopologyHello       = "hello"
	TopologyPubSub      = "pubsub"
	TopologyPipeline    = "pipeline"
	TopologyBroker      = "broker"
	TopologyMultiReader = "multi-reader"
	TopologyMultiPoller = "multi-poller"
)

var topologies = []string{TopologyHello, TopologyPubSub, TopologyPipeline, TopologyBroker, TopologyMultiReader, TopologyMultiPoller}

const envPrefix = "CLUSTERMQ_"

type Config struct {
	Topology string `yaml:"topology"`
	LogLevel string `yaml:"loglevel"`
	// Address to serve prometheus metrics on (e.g. ":9100"); empty disables metrics
	Metrics string `yaml:"metrics"`
	// Stop after this long; 0 runs until interrupted or done
	Duration time.Duration `yaml:"duration"`

	Hello    HelloConfig    `yaml:"hello"`
	PubSub   PubSubConfig   `yaml:"pubsub"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Broker   BrokerConfig   `yaml:"broker"`
	Multi    MultiConfig    `yaml:"multi"`
}

type HelloConfig struct {
	Bind     string `yaml:"bind"`
	Connect  string `yaml:"connect"`
	Requests int    `yaml:"requests"`
}

type PubSubConfig struct {
	Bind        []string      `yaml:"bind"`
	Connect     string        `yaml:"connect"`
	Topic       string        `yaml:"topic"`
	Subscribers int           `yaml:"subscribers"`
	Messages    int           `yaml:"messages"`
	Interval    time.Duration `yaml:"interval"`
}

type PipelineConfig struct {
	VentilatorBind    string `yaml:"ventilator_bind"`
	VentilatorConnect string `yaml:"ventilator_connect"`
	SinkBind          string `yaml:"sink_bind"`
	SinkConnect       string `yaml:"sink_connect"`
	SyncBind          string `yaml:"sync_bind"`
	SyncConnect       string `yaml:"sync_connect"`
	Workers           int    `yaml:"workers"`
	Tasks             int    `yaml:"tasks"`
	// Wait for READY from every worker instead of sleeping WarmupDelay
	Handshake   bool          `yaml:"handshake"`
	WarmupDelay time.Duration `yaml:"warmup_delay"`
}

type BrokerConfig struct {
	ClientBind    string `yaml:"client_bind"`
	ClientConnect string `yaml:"client_connect"`
	WorkerBind    string `yaml:"worker_bind"`
	WorkerConnect string `yaml:"worker_connect"`
	Clients       int    `yaml:"clients"`
	Workers       int    `yaml:"workers"`
	Requests      int    `yaml:"requests"`
	// Per-direction proxy backlog; 0 blocks while no peer can take a message
	Backlog int `yaml:"backlog"`
}

type MultiConfig struct {
	Topic    string        `yaml:"topic"`
	Interval time.Duration `yaml:"interval"`
}

// Default returns the settings of the classic examples.
func Default() *Config {
	return &Config{
		Topology: TopologyHello,
		LogLevel: "info",
		Hello: HelloConfig{
			Bind:     topology.HelloAddress,
			Connect:  topology.HelloConnect,
			Requests: 10,
		},
		PubSub: PubSubConfig{
			Bind:        []string{topology.PublisherAddress, topology.PublisherIPCAddress},
			Connect:     topology.PublisherConnect,
			Topic:       "channel_1",
			Subscribers: 2,
			Messages:    10,
			Interval:    time.Millisecond,
		},
		Pipeline: PipelineConfig{
			VentilatorBind:    topology.VentilatorAddress,
			VentilatorConnect: topology.VentilatorConnect,
			SinkBind:          topology.SinkAddress,
			SinkConnect:       topology.SinkConnect,
			SyncBind:          topology.VentilatorSyncAddress,
			SyncConnect:       topology.VentilatorSyncConnect,
			Workers:           2,
			Tasks:             10,
			Handshake:         true,
			WarmupDelay:       time.Second,
		},
		Broker: BrokerConfig{
			ClientBind:    topology.BrokerClientAddress,
			ClientConnect: topology.BrokerClientConnect,
			WorkerBind:    topology.BrokerWorkerAddress,
			WorkerConnect: topology.BrokerWorkerConnect,
			Clients:       3,
			Workers:       3,
			Requests:      10,
		},
		Multi: MultiConfig{
			Topic:    "channel_1",
			Interval: time.Millisecond,
		},
	}
}

// Load reads path (if not empty) over the defaults, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotenv loads the given files into the environment (".env" if none is given).
// Missing files are ignored; variables that are already set are kept.
func LoadDotenv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv(envPrefix + "TOPOLOGY"); ok {
		c.Topology = v
	}
	if v, ok := os.LookupEnv(envPrefix + "LOGLEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := os.LookupEnv(envPrefix + "METRICS"); ok {
		c.Metrics = v
	}
	if v, ok := os.LookupEnv(envPrefix + "DURATION"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sDURATION: %w", envPrefix, err)
		}
		c.Duration = d
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error

	known := false
	for _, t := range topologies {
		if c.Topology == t {
			known = true
		}
	}
	if !known {
		errs = append(errs, fmt.Errorf("unknown topology %q (one of %s)", c.Topology, strings.Join(topologies, ", ")))
	}
	if _, err := ParseLoglevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Duration < 0 {
		errs = append(errs, errors.New("duration must not be negative"))
	}
	if len(c.PubSub.Bind) == 0 {
		errs = append(errs, errors.New("pubsub.bind needs at least one address"))
	}
	for name, n := range map[string]int{
		"hello.requests":     c.Hello.Requests,
		"pubsub.subscribers": c.PubSub.Subscribers,
		"pubsub.messages":    c.PubSub.Messages,
		"pipeline.workers":   c.Pipeline.Workers,
		"pipeline.tasks":     c.Pipeline.Tasks,
		"broker.clients":     c.Broker.Clients,
		"broker.workers":     c.Broker.Workers,
		"broker.requests":    c.Broker.Requests,
		"broker.backlog":     c.Broker.Backlog,
	} {
		if n < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	return errors.Join(errs...)
}

// ParseLoglevel maps "none", "error", "warning", "info" and "debug" to the log package's levels.
func ParseLoglevel(s string) (int, error) {
	switch strings.ToLower(s) {
	case "none", "off":
		return log.LOGLEVEL_NONE, nil
	case "error", "errors":
		return log.LOGLEVEL_ERRORS, nil
	case "warn", "warning", "warnings":
		return log.LOGLEVEL_WARNINGS, nil
	case "info", "":
		return log.LOGLEVEL_INFO, nil
	case "debug":
		return log.LOGLEVEL_DEBUG, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
