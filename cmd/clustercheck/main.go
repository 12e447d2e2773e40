// Command clustercheck is a consistency checker for a redixcluster
// Dispatcher: it hammers a working set of keys with INCR/GET through the
// dispatch core and reports reads, writes, and any lost or
// un-acknowledged writes it detects, so cluster failover and resharding
// behavior can be exercised against a real cluster. See
// http://redis.io/topics/cluster-tutorial.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/sequinstream/redixcluster"
)

var (
	configFlag = flag.String("config", "", "Path to a YAML config `file` (defaults to Default()).")
	delayFlag  = flag.Duration("d", 0, "Delay `duration` between INCR calls.")
	jsonFlag   = flag.Bool("json", false, "Emit JSON logs.")
)

const (
	workingSet = 1000
	keySpace   = 10000
)

var (
	mu                         sync.Mutex
	writes, reads              int
	failedWrites, failedReads  int
	lostWrites, noAckWrites    int
)

func main() {
	flag.Parse()

	logger := newLogger(*jsonFlag)
	slog.SetDefault(logger)

	cfg := redixcluster.Default()
	if *configFlag != "" {
		var err error
		cfg, err = redixcluster.Load(*configFlag)
		if err != nil {
			logger.Error("failed to load config", "path", *configFlag, "error", err)
			os.Exit(1)
		}
	}

	cache := redixcluster.NewSlotCache()
	registry := redixcluster.NewPoolRegistry(nil, cfg.PoolConfig())
	for _, addr := range cfg.SeedAddrs() {
		host, portStr := splitAddr(addr)
		port, _ := strconv.Atoi(portStr)
		if _, err := registry.EnsurePool(host, port); err != nil {
			logger.Error("failed to create seed pool", "addr", addr, "error", err)
			os.Exit(1)
		}
	}

	monitor := redixcluster.NewMonitor(cfg.SeedAddrs(), redixcluster.DefaultSeedDialer(cfg.SocketOpts.ConnectTimeout), cache, registry, cfg.SeedTimeout, logger)
	defer monitor.Close()

	if err := monitor.RefreshMapping(context.Background(), cache.Version()); err != nil {
		logger.Error("initial topology refresh failed", "error", err)
		os.Exit(1)
	}

	dispatcher := redixcluster.NewDispatcher(cache, monitor, registry, logger)
	retry := redixcluster.NewRetry(cfg)

	go printStats()
	runChecks(dispatcher, retry, *delayFlag)
}

func runChecks(d *redixcluster.Dispatcher, r redixcluster.Retry, delay time.Duration) {
	cache := make(map[string]int, workingSet)
	for {
		var rd, wr, fr, fw, lw, naw int

		key := genKey()

		if exp, ok := cache[key]; ok {
			v, err := doInt(d, r, "GET", key)
			switch {
			case err != nil:
				fr = 1
			case exp > v:
				lw = exp - v
			case exp < v:
				naw = v - exp
			default:
				rd = 1
			}
		}

		v, err := doInt(d, r, "INCR", key)
		if err != nil {
			fw = 1
		} else {
			wr = 1
			cache[key] = v
		}

		updateStats(wr, rd, fw, fr, lw, naw)
		time.Sleep(delay)
	}
}

func doInt(d *redixcluster.Dispatcher, r redixcluster.Retry, verb, key string) (int, error) {
	result, err := r.Do(context.Background(), func() (interface{}, error) {
		return d.Command(redixcluster.Command{[]byte(verb), []byte(key)}, nil)
	})
	if err != nil {
		return 0, err
	}
	switch v := result.(type) {
	case int64:
		return int(v), nil
	case []byte:
		return strconv.Atoi(string(v))
	default:
		return 0, fmt.Errorf("clustercheck: unexpected reply type %T", v)
	}
}

func updateStats(deltas ...int) {
	mu.Lock()
	writes += deltas[0]
	reads += deltas[1]
	failedWrites += deltas[2]
	failedReads += deltas[3]
	lostWrites += deltas[4]
	noAckWrites += deltas[5]
	mu.Unlock()
}

func printStats() {
	for range time.Tick(time.Second) {
		mu.Lock()
		w, rd := writes, reads
		fw, fr := failedWrites, failedReads
		lw, naw := lostWrites, noAckWrites
		mu.Unlock()
		fmt.Printf("%d R (%d err) | %d W (%d err) | %d lost | %d noack\n", rd, fr, w, fw, lw, naw)
	}
}

func genKey() string {
	ks := workingSet
	if rand.Float64() > 0.5 {
		ks = keySpace
	}
	return "key_" + strconv.Itoa(rand.Intn(ks))
}

func splitAddr(addr string) (host, port string) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:]
		}
	}
	return addr, ""
}

func newLogger(json bool) *slog.Logger {
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true})
	}
	return slog.New(handler)
}
