// cmd/preflight/main.go
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hamed0406/outagewatch/internal/config"
)

func main() {
	cfgPath := flag.String("config", config.DefaultPath, "path to the YAML config")
	flag.Parse()

	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		os.Exit(1)
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fail(err.Error())
	}
	ok(fmt.Sprintf("%s parsed: %d targets, %d probes", *cfgPath, len(cfg.Targets), len(cfg.Probes)))

	if cfg.Monitor.WarmupSecs == 0 {
		warn("warmup_secs is 0 — the first failing cycles can open an outage immediately after start.")
	}
	if cfg.Monitor.ChecksPerSecond > 0 {
		ok(fmt.Sprintf("checks_per_second=%g", cfg.Monitor.ChecksPerSecond))
	}

	pairs := len(cfg.Targets) * len(cfg.Probes)
	budget := cfg.CycleInterval()
	if worst := cfg.PingTimeout() * (time.Duration(pairs)/time.Duration(cfg.Monitor.MaxConcurrentChecks) + 1); worst > budget {
		warn(fmt.Sprintf("worst-case cycle (%s for %d pairs at concurrency %d) exceeds cycle_interval %s — expect overrun logs",
			worst, pairs, cfg.Monitor.MaxConcurrentChecks, budget))
	}

	if db := strings.TrimSpace(cfg.DatabaseURL); db == "" {
		warn("database_url empty — cycles will be kept in memory only and lost on restart.")
	} else {
		ok("database_url present")
	}

	if cfg.Notify.SlackWebhook == "" {
		warn("slack_webhook empty — outage notifications disabled.")
	} else {
		ok("slack_webhook present")
	}

	ok("ADDR=" + cfg.Addr)
	ok("preflight passed")
}
