package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/spf13/cobra"

	"game-profile-engine/handlers"
	"game-profile-engine/services"
	"game-profile-engine/storage"
	"game-profile-engine/utils"
	"game-profile-engine/workers"
)

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the profile HTTP API",
		Long: `Serves the player profile API under /s/profile behind the gateway and,
when DATABASE_URL is set, the remote store API under /remote for other
engine processes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions) error {
	cfg, log := opts.Config, opts.Log
	if cfg.GameServiceToken == "" {
		return errors.New("GAME_SERVICE_TOKEN is not set; service cannot authenticate the gateway")
	}
	if err := cfg.Validate(false); err != nil {
		return err
	}

	var sink storage.SnapshotSink
	var archiver *workers.SnapshotArchiver
	if cfg.R2.Enabled() {
		r2, err := utils.NewR2Archiver(ctx, cfg.R2)
		if err != nil {
			return fmt.Errorf("failed to initialize R2 client: %w", err)
		}
		archiver = workers.NewSnapshotArchiver(r2, 64, log)
		sink = archiver
	}

	stack, err := OpenStack(ctx, cfg, log, stackOptions{sink: sink})
	if err != nil {
		return err
	}
	defer stack.Close()

	registry := services.NewEngineRegistry(stack.EngineConfig(cfg, log))
	app := NewApp(cfg, stack, registry, log)

	if archiver != nil {
		archiver.Start(ctx)
	}
	reaper := workers.NewSessionReaper(registry, cfg.SessionIdleTimeout, log)
	reaper.Start(ctx)

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(cfg.ListenAddr)
	}()
	log.Info("[SERVER] profile engine running",
		"addr", cfg.ListenAddr,
		"remote_store", stack.RemoteDB != nil,
		"archive", archiver != nil,
		"origins", strings.Join(cfg.AllowedOrigins, ","),
	)

	select {
	case err := <-listenErr:
		if err != nil {
			log.Error("[SERVER] listener stopped", "error", err)
		}
	case <-ctx.Done():
	}

	log.Info("[SERVER] shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Warn("[SERVER] shutdown incomplete", "error", err)
	}
	if err := registry.CloseAll(); err != nil {
		log.Warn("[SERVER] closing sessions failed", "error", err)
	}
	reaper.Wait()
	if archiver != nil {
		archiver.Wait()
	}
	return nil
}

// NewApp builds the fiber application with CORS and every route group.
func NewApp(cfg utils.Config, stack *Stack, registry *services.EngineRegistry, log *utils.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit: 8 * 1024 * 1024,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, Cache-Control, X-Service-Token, X-User-ID",
		ExposeHeaders:    "Content-Length, Content-Type, Content-Disposition, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "sessions": registry.Len()})
	})

	if stack.RemoteDB != nil {
		handlers.SetupRemoteRoutes(app, stack.RemoteDB, cfg.GameServiceToken, log)
	}
	handlers.SetupProfileRoutes(app, registry, cfg.GameServiceToken, log)
	return app
}
