// Interactive monitor for a chamber controller: discovers the backend,
// follows its status stream and issues commands from stdin.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/carverauto/chamberlink/pkg/client"
	"github.com/carverauto/chamberlink/pkg/config"
	"github.com/carverauto/chamberlink/pkg/events"
	"github.com/carverauto/chamberlink/pkg/logger"
	"github.com/carverauto/chamberlink/pkg/models"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to client config file (JSON)")
	envFile := flag.String("env-file", "", "Optional dotenv file loaded before startup")
	override := flag.String("host", "", "Pin the backend to host[:port], skipping discovery scans")
	fullScan := flag.Bool("full-scan", false, "Scan full subnet ranges when the quick scan fails")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", *envFile, err)
		}
	}

	ctx := context.Background()

	cfg := models.DefaultCoreConfig()

	if *configPath != "" {
		loader := config.NewConfig(nil)
		if err := loader.LoadAndValidate(ctx, *configPath, cfg); err != nil {
			return err
		}
	}

	if *override != "" {
		cfg.OverrideAddress = *override
	}

	if *fullScan {
		cfg.FullScan = true
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = logger.DefaultConfig()
	}

	clientLogger, err := logger.New(logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	c, err := client.New(cfg, client.Options{
		Logger:     clientLogger,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	subscribeOutput(c)

	if err := c.Connect(ctx); err != nil {
		// The session keeps retrying in the background; report and stay up.
		clientLogger.Warn().Err(err).Msg("Initial connection failed, retrying in background")
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)

	go commandLoop(ctx, c)

	<-interrupt
	fmt.Println("\nshutting down")

	return nil
}

func subscribeOutput(c *client.Client) {
	c.Hub().Subscribe(events.TopicConnectionState, func(payload interface{}) {
		if ev, ok := payload.(events.ConnectionStateEvent); ok {
			if ev.Reason != "" {
				fmt.Printf("[state] %s (%s)\n", ev.State, ev.Reason)
			} else {
				fmt.Printf("[state] %s\n", ev.State)
			}
		}
	})

	c.Hub().Subscribe(events.TopicDiscoveryComplete, func(payload interface{}) {
		if ev, ok := payload.(events.DiscoveryCompleteEvent); ok {
			fmt.Printf("[discovery] %s (%s %s)\n",
				ev.Result.Endpoint.Addr(), ev.Result.ServiceName, ev.Result.ServiceVersion)
		}
	})

	c.Hub().Subscribe(events.TopicSnapshot, func(payload interface{}) {
		if snap, ok := payload.(*models.Snapshot); ok {
			if pressure, ok := snap.Value("pressure.internal_current"); ok {
				fmt.Printf("[snapshot] seq=%d pressure=%v\n", snap.Seq, pressure)
			}
		}
	})

	c.Hub().Subscribe(events.TopicCommandError, func(payload interface{}) {
		if ev, ok := payload.(events.CommandEvent); ok {
			fmt.Printf("[command] %s failed: %s\n", ev.Key, ev.Message)
		}
	})
}

func commandLoop(ctx context.Context, c *client.Client) {
	fmt.Println("commands: ac | lights | oxygen | intercom | up | down | reset | quit")

	scanner := bufio.NewScanner(os.Stdin)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		var err error

		switch line {
		case "":
			continue
		case "quit", "exit":
			_ = syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
			return
		case "up":
			err = c.StepPressure(ctx, true)
		case "down":
			err = c.StepPressure(ctx, false)
		case "reset":
			err = c.Reset(ctx)
		case models.ControlAC, models.ControlLights, models.ControlOxygen, models.ControlIntercom:
			err = c.Toggle(ctx, line)
		default:
			fmt.Printf("unknown command %q\n", line)
			continue
		}

		if err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}
