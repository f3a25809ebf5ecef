package httpapi

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/weather-time-animator/internal/animation"
	"github.com/i474232898/weather-time-animator/internal/capabilities"
	"github.com/i474232898/weather-time-animator/internal/engine"
	"github.com/i474232898/weather-time-animator/internal/timeline"
	"github.com/i474232898/weather-time-animator/internal/timerange"
)

var validate = validator.New()

// Animator is the part of the engine the API drives.
type Animator interface {
	Status(ctx context.Context) (engine.Status, error)
	Seek(ctx context.Context, t timeline.TimePoint) (timeline.TimePoint, bool, error)
	Next(ctx context.Context) (timeline.TimePoint, bool, error)
	Previous(ctx context.Context) (timeline.TimePoint, bool, error)
	Play(ctx context.Context, opts animation.PlayOptions) (bool, error)
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	SetLayerVisible(ctx context.Context, id string, visible bool) ([]string, error)
	Capabilities() ([]capabilities.Entry, error)
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, anim Animator, resolver *timerange.Resolver) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := app.Group("/api/v1")

	v1.Get("/animation", func(c *fiber.Ctx) error {
		st, err := anim.Status(c.UserContext())
		if err != nil {
			return engineError(err)
		}
		return c.JSON(st)
	})

	v1.Post("/animation/seek", func(c *fiber.Ctx) error {
		var req seekRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		t, err := parseTime(req.Time)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		at, moved, err := anim.Seek(c.UserContext(), t)
		if err != nil {
			return engineError(err)
		}
		return c.JSON(newMoveResponse(at, moved))
	})

	v1.Post("/animation/next", func(c *fiber.Ctx) error {
		at, moved, err := anim.Next(c.UserContext())
		if err != nil {
			return engineError(err)
		}
		return c.JSON(newMoveResponse(at, moved))
	})

	v1.Post("/animation/previous", func(c *fiber.Ctx) error {
		at, moved, err := anim.Previous(c.UserContext())
		if err != nil {
			return engineError(err)
		}
		return c.JSON(newMoveResponse(at, moved))
	})

	v1.Post("/animation/play", func(c *fiber.Ctx) error {
		var opts animation.PlayOptions
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&opts); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
			}
		}
		if err := validate.Struct(opts); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		started, err := anim.Play(c.UserContext(), opts)
		if err != nil {
			return engineError(err)
		}
		if !started {
			return fiber.NewError(fiber.StatusConflict, "nothing to play")
		}
		return c.JSON(fiber.Map{"playing": true})
	})

	v1.Post("/animation/pause", func(c *fiber.Ctx) error {
		if err := anim.Pause(c.UserContext()); err != nil {
			return engineError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	v1.Post("/animation/stop", func(c *fiber.Ctx) error {
		if err := anim.Stop(c.UserContext()); err != nil {
			return engineError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	v1.Put("/layers/:id/visibility", func(c *fiber.Ctx) error {
		var req visibilityRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		touched, err := anim.SetLayerVisible(c.UserContext(), c.Params("id"), *req.Visible)
		if err != nil {
			return engineError(err)
		}
		return c.JSON(fiber.Map{"layers": touched, "visible": *req.Visible})
	})

	v1.Get("/capabilities", func(c *fiber.Ctx) error {
		entries, err := anim.Capabilities()
		if err != nil {
			return engineError(err)
		}
		return c.JSON(fiber.Map{"capabilities": entries})
	})

	v1.Get("/times/resolve", func(c *fiber.Ctx) error {
		text := strings.TrimSpace(c.Query("range"))
		if text == "" {
			return fiber.NewError(fiber.StatusBadRequest, "range query parameter is required")
		}
		times, errs := resolver.ResolveText(text, nil)
		if len(times) == 0 && len(errs) > 0 {
			return fiber.NewError(fiber.StatusBadRequest, errs[0].Error())
		}
		msgs := make([]string, 0, len(errs))
		for _, err := range errs {
			msgs = append(msgs, err.Error())
		}
		iso := make([]string, 0, len(times))
		for _, t := range times {
			iso = append(iso, t.String())
		}
		return c.JSON(fiber.Map{
			"range":  text,
			"times":  iso,
			"errors": msgs,
		})
	})
}

type seekRequest struct {
	Time string `json:"time" validate:"required"`
}

type visibilityRequest struct {
	Visible *bool `json:"visible" validate:"required"`
}

type moveResponse struct {
	Time  *timeline.TimePoint `json:"time"`
	ISO   string              `json:"iso,omitempty"`
	Moved bool                `json:"moved"`
}

func newMoveResponse(at timeline.TimePoint, moved bool) moveResponse {
	resp := moveResponse{Moved: moved}
	if moved || at != 0 {
		resp.Time = &at
		resp.ISO = at.String()
	}
	return resp
}

// engineError maps engine errors onto HTTP status codes.
func engineError(err error) error {
	switch {
	case errors.Is(err, engine.ErrUnknownLayer):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrDestroyed):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fiber.NewError(fiber.StatusGatewayTimeout, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}

// parseTime tries to parse either RFC3339 or Unix milliseconds.
func parseTime(s string) (timeline.TimePoint, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return timeline.FromTime(ts), nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return timeline.TimePoint(ms), nil
	}
	return 0, errors.New("invalid time format; use RFC3339 or unix milliseconds")
}
