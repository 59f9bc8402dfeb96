package httpapi

import (
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	"github.com/i474232898/weather-ingest/internal/weather"
)

const (
	defaultHistoryLimit = 100
	defaultRawLimit     = 20
)

var validate = validator.New()

// NewApp builds the Fiber app with middleware, centralized error handling and
// every route registered.
func NewApp(service *weather.Service) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "weather-ingest",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          2 * time.Minute, // POST /ingest waits for a full run
		ErrorHandler:          ErrorHandler,
	})

	app.Use(logger.New())
	app.Use(recover.New())

	RegisterRoutes(app, service)
	return app
}

// ErrorHandler renders every error as a JSON body.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *weather.Service) {
	app.Get("/health", func(c *fiber.Ctx) error {
		if err := service.Ping(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":  "degraded",
				"service": "weather-ingest",
				"error":   err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "weather-ingest",
		})
	})

	v1 := app.Group("/api/v1")

	v1.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(service.Stats())
	})

	v1.Get("/locations", func(c *fiber.Ctx) error {
		locs, err := service.ListLocations(c.UserContext(), c.QueryBool("active", false))
		if err != nil {
			return httpError(err, "failed to list locations")
		}
		return c.JSON(locs)
	})

	v1.Get("/weather/latest", func(c *fiber.Ctx) error {
		q, err := parseLocationQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		latest, err := service.GetLatest(c.UserContext(), q.Key)
		if err != nil {
			return httpError(err, "failed to fetch latest weather")
		}
		return c.JSON(latest)
	})

	v1.Get("/weather/latest/all", func(c *fiber.Ctx) error {
		latest, err := service.ListLatest(c.UserContext())
		if err != nil {
			return httpError(err, "failed to fetch latest weather")
		}
		return c.JSON(latest)
	})

	v1.Get("/weather/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		observations, err := service.GetRange(c.UserContext(), req.Location.Key, req.From, req.To, req.Limit)
		if err != nil {
			return httpError(err, "failed to fetch weather history")
		}

		return c.JSON(fiber.Map{
			"location":     req.Location.Key,
			"from":         req.From,
			"to":           req.To,
			"observations": observations,
		})
	})

	v1.Get("/raw", func(c *fiber.Ctx) error {
		q, err := parseLocationQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		limit := c.QueryInt("limit", defaultRawLimit)
		if limit < 1 || limit > 1000 {
			return fiber.NewError(fiber.StatusBadRequest, "limit must be between 1 and 1000")
		}

		raws, err := service.ListRaw(c.UserContext(), q.Key, limit)
		if err != nil {
			return httpError(err, "failed to list raw responses")
		}
		return c.JSON(raws)
	})

	v1.Get("/raw/:id", func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid ingestion id")
		}

		raw, err := service.GetRaw(c.UserContext(), id)
		if err != nil {
			return httpError(err, "failed to fetch raw response")
		}
		return c.JSON(raw)
	})

	v1.Post("/ingest", func(c *fiber.Ctx) error {
		report, err := service.IngestAll(c.UserContext())
		if err != nil {
			return httpError(err, "ingestion run failed")
		}
		return c.JSON(report)
	})

	v1.Post("/ingest/:key", func(c *fiber.Ctx) error {
		key, err := url.PathUnescape(c.Params("key"))
		if err != nil || key == "" {
			return fiber.NewError(fiber.StatusBadRequest, "invalid location key")
		}

		result, err := service.IngestByKey(c.UserContext(), key)
		return ingestResponse(c, result, err)
	})

	v1.Post("/raw/:id/reprocess", func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid ingestion id")
		}

		result, err := service.Reprocess(c.UserContext(), id)
		return ingestResponse(c, result, err)
	})

	v1.Post("/latest/rebuild", func(c *fiber.Ctx) error {
		n, err := service.RebuildLatest(c.UserContext())
		if err != nil {
			return httpError(err, "failed to rebuild latest projection")
		}
		return c.JSON(fiber.Map{"rebuilt": n})
	})
}

// ingestResponse reports a finished unit of work. Once a raw row exists the
// result is returned alongside the error so callers can follow the ingestion id.
func ingestResponse(c *fiber.Ctx, result weather.IngestResult, err error) error {
	if err == nil {
		return c.JSON(result)
	}
	if result.IngestionID == uuid.Nil {
		return httpError(err, "ingestion failed")
	}
	return c.Status(statusFor(err)).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
		"result":  result,
	})
}

// httpError maps pipeline errors onto HTTP status codes. Internal failures are
// reported with a generic message.
func httpError(err error, internalMsg string) error {
	code := statusFor(err)
	if code == fiber.StatusInternalServerError {
		return fiber.NewError(code, internalMsg)
	}
	return fiber.NewError(code, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, weather.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, weather.ErrInvalidLocationKey):
		return fiber.StatusBadRequest
	case errors.Is(err, weather.ErrLocationInactive):
		return fiber.StatusConflict
	case errors.Is(err, weather.ErrParse):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, weather.ErrTransport), errors.Is(err, weather.ErrProviderStatus):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// locationQuery identifies a location by its registry key.
type locationQuery struct {
	Key string `validate:"required"`
}

func parseLocationQuery(c *fiber.Ctx) (locationQuery, error) {
	q := locationQuery{Key: c.Query("location")}

	if err := validate.Struct(q); err != nil {
		return q, err
	}

	return q, nil
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	Location locationQuery
	From     time.Time `validate:"required"`
	To       time.Time `validate:"required,gtefield=From"`
	Limit    int       `validate:"gte=1,lte=1000"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	loc, err := parseLocationQuery(c)
	if err != nil {
		return err
	}
	h.Location = loc

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to

	h.Limit = defaultHistoryLimit
	if s := c.Query("limit"); s != "" {
		if h.Limit, err = strconv.Atoi(s); err != nil {
			return errors.New("limit must be an integer")
		}
	}
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
