package http

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"soulcrush/internal/config"
	"soulcrush/internal/model"
	"soulcrush/internal/refresh"
	"soulcrush/internal/services"
)

const defaultAwaitTimeout = 5 * time.Second

func appService(c *fiber.Ctx) services.ApplicationService {
	return c.Locals("service").(services.ApplicationService)
}

func controller(c *fiber.Ctx) *refresh.Controller {
	return c.Locals("controller").(*refresh.Controller)
}

func requestLogger(c *fiber.Ctx) *slog.Logger {
	if l, ok := c.Locals("logger").(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

func awaitTimeout(c *fiber.Ctx) time.Duration {
	cfg, ok := c.Locals("config").(*config.Config)
	if !ok || cfg.Refresh.FetchTimeoutMs <= 0 {
		return defaultAwaitTimeout
	}
	// One full fetch plus headroom for a fetch already in flight.
	return 2 * time.Duration(cfg.Refresh.FetchTimeoutMs) * time.Millisecond
}

func parseID(c *fiber.Ctx) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// listApplicationsHandler waits for a view matching the latest recorded
// mutation, so a client that just mutated always reads its own write.
func listApplicationsHandler(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), awaitTimeout(c))
	defer cancel()

	view, err := controller(c).Await(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && view.State == refresh.StateLoading {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
			Success: false,
			Code:    "LIST_LOADING",
			Error:   "Application list is still loading, try again shortly",
		})
	}
	if err != nil {
		requestLogger(c).Warn("serving possibly stale view", "key", view.Key.String(), "error", err)
	}

	if view.State == refresh.StateFailed {
		msg := "list failed"
		if view.Err != nil {
			msg = view.Err.Error()
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ListApplicationsResponse{
			Success:      false,
			State:        view.State,
			Key:          view.Key,
			Applications: []ApplicationItem{},
			Code:         "LIST_FAILED",
			Error:        msg,
		})
	}

	return c.JSON(ListApplicationsResponse{
		Success:      true,
		State:        view.State,
		Key:          view.Key,
		Applications: toItems(view.Applications),
	})
}

func createApplicationHandler(c *fiber.Ctx) error {
	var reqBody model.CreateApplicationRequest
	if err := c.BodyParser(&reqBody); err != nil {
		return badRequest(c, "BAD_REQUEST_INVALID_JSON", "Bad request, malformed JSON")
	}

	created, key, err := appService(c).CreateApplication(c.Context(), reqBody)
	if err != nil {
		return writeError(c, err)
	}

	item := toItem(created)
	return c.Status(fiber.StatusCreated).JSON(MutationResponse{
		Success:     true,
		Key:         key,
		Application: &item,
		Status:      created.Status,
	})
}

func deleteApplicationHandler(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "INVALID_ID", "Application id must be a UUID")
	}

	key, err := appService(c).DeleteApplication(c.Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(MutationResponse{Success: true, Key: key})
}

func updateApplicationStatusHandler(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "INVALID_ID", "Application id must be a UUID")
	}

	var reqBody UpdateStatusRequest
	if err := c.BodyParser(&reqBody); err != nil {
		return badRequest(c, "BAD_REQUEST_INVALID_JSON", "Bad request, malformed JSON")
	}
	status, err := model.ParseStatus(reqBody.Status)
	if err != nil {
		return writeError(c, err)
	}

	key, err := appService(c).UpdateApplicationStatus(c.Context(), id, status)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(MutationResponse{Success: true, Key: key, Status: status})
}

func advanceApplicationHandler(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "INVALID_ID", "Application id must be a UUID")
	}

	next, key, err := appService(c).AdvanceApplicationStatus(c.Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(MutationResponse{Success: true, Key: key, Status: next})
}

// refreshApplicationsHandler forces a re-fetch of the current tuple,
// used by clients after the list reported a failure.
func refreshApplicationsHandler(c *fiber.Ctx) error {
	ctrl := controller(c)
	ctrl.Retry()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"key":     ctrl.Key(),
	})
}

func statusesHandler(c *fiber.Ctx) error {
	out := make([]StatusOption, 0, len(model.Statuses))
	for _, s := range model.Statuses {
		out = append(out, StatusOption{
			Value: s,
			Label: s.Label(),
			Class: s.Class(),
			Next:  s.Next(),
		})
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"default":  model.DefaultStatus,
		"statuses": out,
	})
}
