// Command treesync-agent is a small demo peer: it connects to a ZooKeeper
// ensemble and produces to, consumes from, or contends a lock under a shared
// coordination path. Run several copies to watch the primitives coordinate.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/suyash-sneo/treesync"
	"github.com/suyash-sneo/treesync/coord"
	zkcoord "github.com/suyash-sneo/treesync/coord/zk"
)

type agentConfig struct {
	Servers        []string `yaml:"servers"`
	SessionTimeout duration `yaml:"sessionTimeout"`
	QueuePath      string   `yaml:"queuePath"`
	LockPath       string   `yaml:"lockPath"`
	Mode           string   `yaml:"mode"`
	Workers        int      `yaml:"workers"`
	Interval       duration `yaml:"interval"`
}

// duration parses YAML strings like "10s" via time.ParseDuration.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = duration(parsed)
	return nil
}

func defaultAgentConfig() agentConfig {
	return agentConfig{
		Servers:        []string{"127.0.0.1:2181"},
		SessionTimeout: duration(10 * time.Second),
		QueuePath:      "/treesync/queue",
		LockPath:       "/treesync/lock",
		Mode:           "consume",
		Workers:        1,
		Interval:       duration(time.Second),
	}
}

func main() {
	var (
		configPath string
		servers    string
		mode       string
		workers    int
		verbose    bool
	)
	flag.StringVar(&configPath, "config", "", "path to YAML config file")
	flag.StringVar(&servers, "servers", "", "comma-separated ZooKeeper servers (overrides config)")
	flag.StringVar(&mode, "mode", "", "produce, consume, or lock-demo (overrides config)")
	flag.IntVar(&workers, "workers", 0, "worker loops to run (overrides config)")
	flag.BoolVar(&verbose, "v", false, "verbose logging")
	flag.Parse()

	cfg := defaultAgentConfig()
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			log.Fatalf("read config: %v", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("parse config: %v", err)
		}
	}
	if servers != "" {
		cfg.Servers = strings.Split(servers, ",")
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if workers > 0 {
		cfg.Workers = workers
	}

	logger := stdLogger{verbose: verbose}

	client, err := zkcoord.Dial(cfg.Servers, time.Duration(cfg.SessionTimeout))
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer client.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := ensureDirs(ctx, client, cfg.QueuePath, cfg.LockPath); err != nil {
		log.Fatalf("ensure paths: %v", err)
	}

	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Workers; i++ {
		i := i
		switch cfg.Mode {
		case "produce":
			group.Go(func() error { return produceLoop(ctx, client, cfg, logger, i) })
		case "consume":
			group.Go(func() error { return consumeLoop(ctx, client, cfg, logger, i) })
		case "lock-demo":
			group.Go(func() error { return lockLoop(ctx, client, cfg, logger, i) })
		default:
			log.Fatalf("unknown mode %q", cfg.Mode)
		}
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("agent exited: %v", err)
	}
}

func ensureDirs(ctx context.Context, client coord.Client, paths ...string) error {
	for _, path := range paths {
		var prefix string
		for _, part := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
			prefix += "/" + part
			_, err := client.Create(ctx, prefix, nil, nil, 0)
			if err != nil && !errors.Is(err, coord.ErrNodeExists) {
				return fmt.Errorf("create %s: %w", prefix, err)
			}
		}
	}
	return nil
}

func produceLoop(ctx context.Context, client coord.Client, cfg agentConfig, logger treesync.Logger, id int) error {
	queue := treesync.NewQueue(client, cfg.QueuePath,
		treesync.WithPersistentEntries(),
		treesync.WithQueueLogger(logger))
	ticker := time.NewTicker(time.Duration(cfg.Interval))
	defer ticker.Stop()
	seq := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			item := fmt.Sprintf("producer-%d item-%d", id, seq)
			seq++
			if err := queue.Put(ctx, []byte(item)); err != nil {
				return err
			}
			logger.Info("produced", treesync.Field{Key: "item", Value: item})
		}
	}
}

func consumeLoop(ctx context.Context, client coord.Client, cfg agentConfig, logger treesync.Logger, id int) error {
	queue := treesync.NewQueue(client, cfg.QueuePath, treesync.WithQueueLogger(logger))
	for {
		item, err := queue.GetWait(ctx)
		if err != nil {
			return err
		}
		logger.Info("consumed",
			treesync.Field{Key: "worker", Value: id},
			treesync.Field{Key: "item", Value: string(item)})
	}
}

func lockLoop(ctx context.Context, client coord.Client, cfg agentConfig, logger treesync.Logger, id int) error {
	lock := treesync.NewLock(client, cfg.LockPath, treesync.WithLockLogger(logger))
	for {
		if err := lock.Acquire(ctx); err != nil {
			return err
		}
		logger.Info("holding lock", treesync.Field{Key: "worker", Value: id})
		select {
		case <-ctx.Done():
			_ = lock.Release(context.Background())
			return ctx.Err()
		case <-time.After(time.Duration(cfg.Interval)):
		}
		if err := lock.Release(ctx); err != nil {
			return err
		}
		logger.Info("released lock", treesync.Field{Key: "worker", Value: id})
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
	}()
	return ctx, cancel
}

type stdLogger struct {
	verbose bool
}

func (l stdLogger) Debug(msg string, fields ...treesync.Field) {
	if l.verbose {
		log.Print(format(msg, fields...))
	}
}

func (l stdLogger) Info(msg string, fields ...treesync.Field) { log.Print(format(msg, fields...)) }
func (l stdLogger) Warn(msg string, fields ...treesync.Field) {
	log.Print("WARN: " + format(msg, fields...))
}
func (l stdLogger) Error(msg string, fields ...treesync.Field) {
	log.Print("ERROR: " + format(msg, fields...))
}

func format(msg string, fields ...treesync.Field) string {
	if len(fields) == 0 {
		return msg
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", f.Key, f.Value))
	}
	return msg + " " + strings.Join(parts, " ")
}
