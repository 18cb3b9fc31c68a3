// Command telemetrygen appends synthetic NETCONF telemetry to the monitor's
// record log. It either streams drifting samples for a simulated fleet or
// injects a single canned degraded/normal record for one ONU.
package main

import (
	"flag"
	"log"
	"os"
	"time"

	"epon-monitor/internal/simulator"
	"epon-monitor/internal/telemetry/logstore"
)

const eventTimeLayout = "2006-01-02T15:04:05.000Z07:00"

func main() {
	var (
		logPath  = flag.String("log", "var/data/netconf_notifications.log", "record log path")
		maxLines = flag.Int("max-lines", logstore.DefaultMaxLines, "record log line budget")
		oltID    = flag.String("olt", simulator.DefaultOLTID, "OLT identifier")
		onuCount = flag.Int("onus", simulator.DefaultONUCount, "number of simulated ONUs")
		interval = flag.Duration("interval", 15*time.Second, "delay between rounds")
		rounds   = flag.Int("rounds", 0, "rounds to generate, 0 runs forever")
		seed     = flag.Int64("seed", 0, "random seed, 0 uses the current time")
		scenario = flag.String("scenario", "", "one-shot injection: degrade_onu or clear_issues")
		onuID    = flag.String("onu", "", "target ONU for one-shot injection")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "", log.LstdFlags)

	store, err := logstore.New(*logPath, logstore.WithMaxLines(*maxLines))
	if err != nil {
		logger.Fatalf("log store error: %v", err)
	}

	if *scenario != "" {
		runInjection(logger, store, *scenario, *onuID)
		return
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	generator := simulator.NewGenerator(*oltID, *onuCount, *seed)
	logger.Printf("generating telemetry: olt=%s onus=%d interval=%s log=%s",
		*oltID, generator.ONUCount(), *interval, *logPath)

	for round := 0; *rounds <= 0 || round < *rounds; round++ {
		if round > 0 {
			time.Sleep(*interval)
		}
		eventTime := time.Now().UTC().Format(eventTimeLayout)
		for id := 1; id <= generator.ONUCount(); id++ {
			record := simulator.RenderNotification(eventTime, generator.Sample(id))
			if err := store.Append(record); err != nil {
				logger.Fatalf("append error: %v", err)
			}
		}
		logger.Printf("round %d: appended %d records", round+1, generator.ONUCount())
	}
}

func runInjection(logger *log.Logger, store *logstore.Store, scenario, onuID string) {
	if onuID == "" {
		logger.Fatal("-onu is required with -scenario")
	}
	var metrics simulator.Metrics
	switch scenario {
	case "degrade_onu":
		metrics = simulator.DegradedMetrics(onuID)
	case "clear_issues":
		metrics = simulator.NormalMetrics(onuID)
	default:
		logger.Fatalf("unknown scenario %q", scenario)
	}
	eventTime := time.Now().UTC().Format(eventTimeLayout)
	if err := store.Append(simulator.RenderNotification(eventTime, metrics)); err != nil {
		logger.Fatalf("append error: %v", err)
	}
	logger.Printf("injected scenario=%s onu=%s", scenario, onuID)
}
