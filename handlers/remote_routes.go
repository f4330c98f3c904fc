package handlers

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"game-profile-engine/middleware"
	"game-profile-engine/models"
	"game-profile-engine/schema"
	"game-profile-engine/storage"
	"game-profile-engine/utils"
)

// RemoteStore is the system-of-record surface served over HTTP.
type RemoteStore interface {
	storage.RemoteTransport
	storage.DailyLedger
	storage.Purger
}

// SetupRemoteRoutes exposes store as the remote tier for engines running in
// other processes (see storage.HTTPRemote).
func SetupRemoteRoutes(app *fiber.App, store RemoteStore, serviceToken string, log *utils.Logger) {
	if log == nil {
		log = utils.NopLogger()
	}
	remote := app.Group("/remote", middleware.ServiceTokenMiddleware(serviceToken, log))

	remote.Get("/profiles/:id", func(c *fiber.Ctx) error {
		id := c.Params("id")
		raw, found, err := store.LoadProfile(c.UserContext(), id)
		if err != nil {
			log.Error("[REMOTE_API] load failed", "user_id", id, "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load profile",
				"cause": err.Error(),
			})
		}
		if !found {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "profile not found"})
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(raw)
	})

	remote.Put("/profiles/:id", func(c *fiber.Ctx) error {
		id := c.Params("id")
		body := c.Body()
		if !schema.CheckIntegrity(body) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "profile document failed integrity check",
			})
		}
		var p models.Profile
		if err := json.Unmarshal(body, &p); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		if p.ID != id {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "profile id does not match path",
			})
		}

		err := store.SaveProfile(c.UserContext(), id, p)
		if errors.Is(err, storage.ErrRemoteConflict) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "a newer profile is already stored",
			})
		}
		if err != nil {
			log.Error("[REMOTE_API] save failed", "user_id", id, "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to save profile",
				"cause": err.Error(),
			})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	remote.Delete("/profiles/:id", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if err := store.DeleteProfile(c.UserContext(), id); err != nil {
			log.Error("[REMOTE_API] delete failed", "user_id", id, "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to delete profile",
				"cause": err.Error(),
			})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	remote.Get("/profiles/:id/daily/:day", func(c *fiber.Ctx) error {
		id, day := c.Params("id"), c.Params("day")
		if !validDay(day) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "day must be YYYY-MM-DD"})
		}
		done, err := store.HasCompletedDaily(c.UserContext(), id, day)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to check daily completion",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"completed": done})
	})

	remote.Put("/profiles/:id/daily/:day", func(c *fiber.Ctx) error {
		id, day := c.Params("id"), c.Params("day")
		if !validDay(day) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "day must be YYYY-MM-DD"})
		}
		if err := store.MarkDailyCompleted(c.UserContext(), id, day); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to record daily completion",
				"cause": err.Error(),
			})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func validDay(day string) bool {
	_, err := time.Parse("2006-01-02", day)
	return err == nil
}
