package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"webpilot/backend/internal/api/handlers"
	"webpilot/backend/internal/api/routes"
	"webpilot/backend/internal/config"
	"webpilot/backend/internal/locator"
	"webpilot/backend/internal/scheduler"
	"webpilot/backend/internal/services"
	"webpilot/backend/internal/session"
	"webpilot/backend/internal/share"
	"webpilot/backend/internal/store"
	"webpilot/backend/pkg/chrome"
	"webpilot/backend/pkg/database"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Initialize database
	if err := database.InitDatabase(cfg); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	stores := store.New(database.DB)

	// Browser for replays
	browser, err := chrome.NewBrowser(chrome.Options{
		ExecPath:     cfg.Chrome.ExecPath,
		Headless:     cfg.Chrome.HeadlessMode,
		WindowWidth:  cfg.Chrome.WindowWidth,
		WindowHeight: cfg.Chrome.WindowHeight,
		CaptureWSURL: cfg.Chrome.CaptureWSURL,
	})
	if err != nil {
		log.Fatal("Failed to initialize browser:", err)
	}
	defer browser.Close()

	// Optional external collaborators
	vision := locator.NewClient(cfg.Vision.Endpoint, cfg.Vision.APIKey)
	sharer := share.NewClient(cfg.Share.Endpoint, cfg.Share.APIKey)

	// Session coordinator
	coordinator := session.NewCoordinator(session.Config{
		Automations: stores.Automations,
		Runs:        stores.Runs,
		Snapshots:   stores.Snapshots,
		Browser:     browser,
		Capture:     browser,
		Vision:      vision,
		Sharer:      sharer,
		Notify:      handlers.Broadcast,
	})
	defer coordinator.Stop()

	// Cron alarms for scheduled automations
	alarms := scheduler.NewAlarmManager(coordinator.OnScheduledFire)
	defer alarms.Stop()
	armSchedules(stores.Automations, alarms)

	// Stale-run cleanup
	cleanup := services.NewCleanupService(stores.Runs)
	if err := cleanup.Start(); err != nil {
		log.Fatal("Failed to start cleanup service:", err)
	}
	defer cleanup.Stop()

	// HTTP surface
	handlers.Setup(coordinator, stores, vision, sharer, alarms)
	router := routes.SetupRoutes(cfg)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Printf("Server starting on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		log.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Fatal("Server error:", err)
	}
	log.Println("Server shutdown complete")
}

// armSchedules arms one alarm per enabled automation with a cron expression.
// Invalid expressions are logged and skipped, never fatal.
func armSchedules(automations store.AutomationStore, alarms *scheduler.AlarmManager) {
	scheduled, err := automations.ListScheduled()
	if err != nil {
		log.Printf("Failed to list scheduled automations: %v", err)
		return
	}
	armed := 0
	for _, automation := range scheduled {
		if err := alarms.Schedule(automation.ID, automation.CronExpression); err != nil {
			log.Printf("Automation %d (%s) left unscheduled: %v", automation.ID, automation.Name, err)
			continue
		}
		armed++
	}
	log.Printf("Armed %d scheduled automations", armed)
}
