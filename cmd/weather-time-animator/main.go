package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	httpapi "github.com/i474232898/weather-time-animator/internal/api/http"
	"github.com/i474232898/weather-time-animator/internal/capabilities"
	"github.com/i474232898/weather-time-animator/internal/config"
	"github.com/i474232898/weather-time-animator/internal/engine"
	"github.com/i474232898/weather-time-animator/internal/render/headless"
	"github.com/i474232898/weather-time-animator/internal/scheduler"
	"github.com/i474232898/weather-time-animator/internal/statusfile"
	"github.com/i474232898/weather-time-animator/internal/store"
	"github.com/i474232898/weather-time-animator/internal/timerange"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "weather-time-animator",
		Short: "Time-synchronized animation of weather map layers",
		Long: `weather-time-animator resolves the valid times of OGC map layers,
keeps their rendered instances in step with one animation clock and
exposes playback over an HTTP control API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the animation engine and its control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	})
	addTimesCmd(rootCmd)
	addCapabilitiesCmd(rootCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newFetcher(timeout time.Duration) *capabilities.HTTPFetcher {
	return capabilities.NewHTTPFetcher(&http.Client{Timeout: timeout})
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Capability cache: SQLite when configured, in memory otherwise.
	var capStore capabilities.Store = store.NewMemoryStore()
	if cfg.CapabilitiesDB != "" {
		sqlStore, err := store.NewSQLiteStore(cfg.CapabilitiesDB)
		if err != nil {
			return fmt.Errorf("failed to open capabilities db: %w", err)
		}
		defer sqlStore.Close()
		capStore = sqlStore
	}

	resolver := &timerange.Resolver{MaxPoints: cfg.MaxTimePoints}
	renderer := headless.New(cfg.LoadDelay)
	defer renderer.Close()

	eng := engine.New(engine.Options{
		Fetcher:         newFetcher(cfg.HTTPTimeout),
		Store:           capStore,
		Renderer:        renderer,
		RenderSignal:    renderer,
		Resolver:        resolver,
		DelayLoop:       cfg.DelayLoop,
		StepDelay:       cfg.FrameRate,
		LoopPeriodDelay: cfg.LoopPeriodDelay,
		RenderTimeout:   cfg.RenderTimeout,
	})
	defer eng.Destroy()
	renderer.SetLoadHandler(eng.LoadComplete)

	if cfg.StatusFile != "" {
		w := statusfile.New(cfg.StatusFile)
		defer w.Close()
		unsubscribe, err := eng.OnTimeStatusChanged(w.Update)
		if err != nil {
			return err
		}
		defer unsubscribe()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Configure(ctx, cfg.Layers, cfg.Sources); err != nil {
		return fmt.Errorf("failed to configure layers: %w", err)
	}

	// Scheduler that periodically reloads capabilities and layer times.
	sched := scheduler.New(eng, cfg.RefreshInterval).WithTimeout(cfg.HTTPTimeout * 2)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "weather-time-animator",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "weather-time-animator",
		})
	})

	httpapi.RegisterRoutes(app, eng, resolver)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()
	log.Printf("INFO: listening on :%s with %d layers", cfg.Port, len(cfg.Layers))

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
	return nil
}

// addTimesCmd adds a 'times' subcommand that prints a resolved time range.
func addTimesCmd(rootCmd *cobra.Command) {
	var maxPoints int
	timesCmd := &cobra.Command{
		Use:   "times <range>",
		Short: "Resolve a time range specification and print its instants",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := &timerange.Resolver{MaxPoints: maxPoints}
			times, errs := r.ResolveText(strings.Join(args, " "), nil)
			for _, err := range errs {
				cmd.PrintErrln(err)
			}
			if len(times) == 0 && len(errs) > 0 {
				return fmt.Errorf("no valid clause in range")
			}
			for _, t := range times {
				cmd.Println(t.String())
			}
			return nil
		},
	}
	timesCmd.Flags().IntVar(&maxPoints, "max", timerange.DefaultMaxPoints, "Maximum points per clause")
	rootCmd.AddCommand(timesCmd)
}

// addCapabilitiesCmd adds a 'capabilities' subcommand that fetches one
// capability document and prints the time extent of each layer.
func addCapabilitiesCmd(rootCmd *cobra.Command) {
	var (
		kind    string
		timeout time.Duration
	)
	capsCmd := &cobra.Command{
		Use:   "capabilities <service-url>",
		Short: "Fetch a WMS/WMTS capability document and list layer times",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind = strings.ToLower(kind)
			url, err := capabilities.CapabilitiesURL(args[0], kind, "")
			if err != nil {
				return err
			}

			reg := capabilities.NewRegistry(newFetcher(timeout), nil, store.NewMemoryStore())
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*timeout)
			defer cancel()
			res, err := reg.Refresh(ctx, []capabilities.Request{{URL: url, Kind: kind}})
			if err != nil {
				return err
			}
			if res.Failed > 0 {
				return fmt.Errorf("failed to load %s", url)
			}
			entry, err := reg.Get(url)
			if err != nil {
				return err
			}

			cmd.Println(fmt.Sprintf("%s %s (%s)", strings.ToUpper(entry.Kind), entry.Document.Version, entry.URL))
			for _, l := range entry.Document.Layers {
				if len(l.Times) == 0 {
					cmd.Println(fmt.Sprintf("  %s: no time dimension", l.Name))
					continue
				}
				cmd.Println(fmt.Sprintf("  %s: %d times, %s .. %s", l.Name, len(l.Times), l.Times[0], l.Times[len(l.Times)-1]))
			}
			return nil
		},
	}
	capsCmd.Flags().StringVarP(&kind, "kind", "k", "wms", "Service kind (wms or wmts)")
	capsCmd.Flags().DurationVar(&timeout, "timeout", 20*time.Second, "HTTP timeout")
	rootCmd.AddCommand(capsCmd)
}
