package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"game-profile-engine/middleware"
	"game-profile-engine/models"
	"game-profile-engine/services"
	"game-profile-engine/utils"
)

// EngineSource hands out the engine serving one user.
type EngineSource interface {
	Get(ctx context.Context, id string, hints services.IdentityHints) (*services.ProfileEngine, error)
	Forget(id string)
}

var streamKeepAlive = 15 * time.Second

// SetupProfileRoutes mounts the player-facing profile API under /s/profile.
// The gateway forwards /api/v1/profile/s/... here with X-User-ID set.
func SetupProfileRoutes(app *fiber.App, engines EngineSource, gatewayToken string, log *utils.Logger) {
	if log == nil {
		log = utils.NopLogger()
	}
	userCtx := middleware.UserContextMiddleware(log)
	gateway := middleware.GatewayAuthMiddleware(gatewayToken, log)

	engineFor := func(c *fiber.Ctx) (*services.ProfileEngine, error) {
		return engines.Get(c.UserContext(), middleware.UserID(c), middleware.Hints(c))
	}

	// EventSource cannot send headers, so the stream accepts query credentials.
	app.Get("/s/profile/stream", middleware.SSEAuthMiddleware(log), gateway, userCtx, func(c *fiber.Ctx) error {
		engine, err := engineFor(c)
		if err != nil {
			return errorResponse(c, err)
		}
		return streamProfile(c, engine, log)
	})

	secured := app.Group("/s/profile", gateway, userCtx)

	secured.Get("/", func(c *fiber.Ctx) error {
		engine, err := engineFor(c)
		if err != nil {
			return errorResponse(c, err)
		}
		p, ok := engine.EnsureProfile(c.UserContext())
		if !ok {
			return errorResponse(c, services.ErrNotAuthenticated)
		}
		return c.JSON(p)
	})

	secured.Get("/status", func(c *fiber.Ctx) error {
		engine, err := engineFor(c)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(engine.Status())
	})

	secured.Post("/games", func(c *fiber.Ctx) error {
		var ev models.GameResult
		if err := c.BodyParser(&ev); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		engine, err := engineFor(c)
		if err != nil {
			return errorResponse(c, err)
		}
		out := engine.ApplyGameResult(c.UserContext(), ev)
		if out.Skipped != nil {
			return c.Status(statusFor(out.Skipped)).JSON(fiber.Map{
				"error":   "game result not applied",
				"cause":   out.Skipped.Error(),
				"outcome": out,
			})
		}
		return c.JSON(fiber.Map{
			"outcome":  out,
			"levelUps": out.LevelUps(),
		})
	})

	secured.Patch("/preferences", func(c *fiber.Ctx) error {
		var patch services.PreferencesPatch
		if err := c.BodyParser(&patch); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		engine, err := engineFor(c)
		if err != nil {
			return errorResponse(c, err)
		}
		p, err := engine.UpdatePreferences(c.UserContext(), patch)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(p)
	})

	secured.Put("/avatar", func(c *fiber.Ctx) error {
		var req struct {
			Avatar string `json:"avatar"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		engine, err := engineFor(c)
		if err != nil {
			return errorResponse(c, err)
		}
		p, err := engine.UpdateAvatar(c.UserContext(), req.Avatar)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(p)
	})

	secured.Patch("/info", func(c *fiber.Ctx) error {
		var patch services.ProfileInfoPatch
		if err := c.BodyParser(&patch); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		engine, err := engineFor(c)
		if err != nil {
			return errorResponse(c, err)
		}
		p, err := engine.UpdateProfileInfo(c.UserContext(), patch)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(p)
	})

	secured.Post("/social/:kind", func(c *fiber.Ctx) error {
		engine, err := engineFor(c)
		if err != nil {
			return errorResponse(c, err)
		}
		p, eval, err := engine.RecordSocialAction(c.UserContext(), models.SocialAction(c.Params("kind")))
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(fiber.Map{
			"profile":         p,
			"newAchievements": eval.NewAchievements,
			"newBadges":       eval.NewBadges,
		})
	})

	secured.Post("/reset", func(c *fiber.Ctx) error {
		engine, err := engineFor(c)
		if err != nil {
			return errorResponse(c, err)
		}
		p, err := engine.ResetProfile(c.UserContext())
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(p)
	})

	secured.Get("/export", func(c *fiber.Ctx) error {
		engine, err := engineFor(c)
		if err != nil {
			return errorResponse(c, err)
		}
		snap, err := engine.ExportProfile(c.UserContext())
		if err != nil {
			return errorResponse(c, err)
		}
		c.Attachment(fmt.Sprintf("profile-%s-%s.json", snap.Profile.Username, snap.ExportedAt.Format("20060102")))
		return c.JSON(snap)
	})

	secured.Post("/import", func(c *fiber.Ctx) error {
		engine, err := engineFor(c)
		if err != nil {
			return errorResponse(c, err)
		}
		p, err := engine.ImportProfile(c.UserContext(), c.Body())
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(p)
	})

	secured.Delete("/", func(c *fiber.Ctx) error {
		engine, err := engineFor(c)
		if err != nil {
			return errorResponse(c, err)
		}
		if err := engine.DeleteAccount(c.UserContext()); err != nil {
			return errorResponse(c, err)
		}
		engines.Forget(middleware.UserID(c))
		return c.SendStatus(fiber.StatusNoContent)
	})

	secured.Post("/focus", func(c *fiber.Ctx) error {
		engine, err := engineFor(c)
		if err != nil {
			return errorResponse(c, err)
		}
		engine.NotifyFocus()
		return c.SendStatus(fiber.StatusAccepted)
	})

	secured.Post("/sync", func(c *fiber.Ctx) error {
		engine, err := engineFor(c)
		if err != nil {
			return errorResponse(c, err)
		}
		syncErr := engine.SyncNow(c.UserContext())
		status := engine.Status()
		if syncErr != nil {
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
				"status": status,
				"cause":  syncErr.Error(),
			})
		}
		return c.JSON(fiber.Map{"status": status})
	})

	secured.Get("/achievements", func(c *fiber.Ctx) error {
		engine, err := engineFor(c)
		if err != nil {
			return errorResponse(c, err)
		}
		progress, err := engine.Achievements(c.UserContext())
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(progress)
	})
}

// streamProfile pushes every new profile version as a server-sent event.
func streamProfile(c *fiber.Ctx, engine *services.ProfileEngine, log *utils.Logger) error {
	updates := make(chan models.Profile, 8)
	unsubscribe := engine.Subscribe(func(p models.Profile) {
		select {
		case updates <- p:
		default:
			// Slow reader; it will catch up with the next version.
		}
	})
	initial, _ := engine.EnsureProfile(c.UserContext())

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()
		ticker := time.NewTicker(streamKeepAlive)
		defer ticker.Stop()

		if err := writeEvent(w, "profile", initial); err != nil {
			return
		}
		for {
			select {
			case p := <-updates:
				if err := writeEvent(w, "profile", p); err != nil {
					log.Debug("[SSE] client disconnected", "user_id", p.ID)
					return
				}
			case <-ticker.C:
				if _, err := w.WriteString(":\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
	return nil
}

func writeEvent(w *bufio.Writer, event string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	return w.Flush()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotAuthenticated):
		return fiber.StatusUnauthorized
	case errors.Is(err, services.ErrDailyAlreadyCompleted):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrInvalidGameResult),
		errors.Is(err, services.ErrInvalidAvatar),
		errors.Is(err, services.ErrInvalidImport),
		errors.Is(err, services.ErrInvalidProfileUpdate):
		return fiber.StatusBadRequest
	case errors.Is(err, services.ErrAccountDeleted):
		return fiber.StatusGone
	case errors.Is(err, services.ErrRegistryClosed):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func errorResponse(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	msg := "profile request failed"
	switch status {
	case fiber.StatusUnauthorized:
		msg = "not signed in"
	case fiber.StatusConflict:
		msg = "already completed"
	case fiber.StatusBadRequest:
		msg = "invalid request"
	case fiber.StatusGone:
		msg = "account deleted"
	case fiber.StatusServiceUnavailable:
		msg = "service shutting down"
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
		"cause": err.Error(),
	})
}
