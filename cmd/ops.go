// cmd/ops.go
//
// Operational HTTP surface for the worker: health, queue stats and job
// lookup. Read-mostly; the platform gateway fronts it, so there is no auth
// layer here.
package main

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/partline/partline/pkg/asyncx"
	"github.com/partline/partline/pkg/errx"
	"github.com/partline/partline/pkg/logx"
	"github.com/partline/partline/pkg/queuex"
)

func newOpsServer(c *Container) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               c.Config.App.Name,
		DisableStartupMessage: true,
		ErrorHandler:          opsErrorHandler,
	})
	app.Use(recover.New())

	app.Get("/health", healthHandler(c))
	app.Get("/queues", listQueuesHandler(c))
	app.Get("/queues/:name/stats", queueStatsHandler(c))
	app.Post("/queues/:name/pause", pauseHandler(c, true))
	app.Post("/queues/:name/resume", pauseHandler(c, false))
	app.Get("/jobs/:id", jobStatusHandler(c))
	app.Post("/jobs/:id/retry", jobRetryHandler(c))

	return app
}

func opsErrorHandler(ctx *fiber.Ctx, err error) error {
	var e *errx.Error
	if errors.As(err, &e) {
		return ctx.Status(e.HTTPStatus).JSON(e)
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return ctx.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}

	logx.WithError(err).Error("unhandled ops error")
	return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal error",
	})
}

func healthHandler(c *Container) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		phase := c.Supervisor.Phase()
		storeErr := c.Store.Ping(ctx.Context())

		status := fiber.StatusOK
		healthy := storeErr == nil && phase == queuex.PhaseRunning
		if !healthy {
			status = fiber.StatusServiceUnavailable
		}

		body := fiber.Map{
			"healthy":        healthy,
			"phase":          phase.String(),
			"uptime_seconds": int64(c.Supervisor.Uptime().Seconds()),
			"active_jobs":    c.Supervisor.ActiveJobs(),
			"counters":       c.Supervisor.Counters(),
		}
		if storeErr != nil {
			body["store_error"] = storeErr.Error()
		}
		return ctx.Status(status).JSON(body)
	}
}

func listQueuesHandler(c *Container) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		out, err := asyncx.Map(ctx.Context(), c.Registry.All(),
			func(mctx context.Context, q *queuex.Queue) (*queuex.Stats, error) {
				return q.Stats(mctx)
			})
		if err != nil {
			return err
		}
		return ctx.JSON(fiber.Map{"queues": out})
	}
}

func queueStatsHandler(c *Container) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		q, err := c.Registry.Get(ctx.Params("name"))
		if err != nil {
			return err
		}
		stats, err := q.Stats(ctx.Context())
		if err != nil {
			return err
		}
		return ctx.JSON(stats)
	}
}

func pauseHandler(c *Container, pause bool) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		q, err := c.Registry.Get(ctx.Params("name"))
		if err != nil {
			return err
		}

		if pause {
			err = q.Pause(ctx.Context())
		} else {
			err = q.Resume(ctx.Context())
		}
		if err != nil {
			return err
		}

		logx.WithFields(logx.Fields{
			"queue":  q.Name(),
			"paused": pause,
		}).Info("queue pause toggled")
		return ctx.JSON(fiber.Map{"queue": q.Name(), "paused": pause})
	}
}

func jobStatusHandler(c *Container) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		job, err := c.Store.GetJob(ctx.Context(), ctx.Params("id"))
		if err != nil {
			return err
		}
		return ctx.JSON(job.Status())
	}
}

func jobRetryHandler(c *Container) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		id := ctx.Params("id")
		job, err := c.Store.GetJob(ctx.Context(), id)
		if err != nil {
			return err
		}

		q, err := c.Registry.Get(job.Queue)
		if err != nil {
			return err
		}
		if err := q.Retry(ctx.Context(), id); err != nil {
			return err
		}

		logx.WithFields(logx.Fields{
			"queue":  job.Queue,
			"job_id": id,
		}).Info("job manually retried")
		return ctx.JSON(fiber.Map{"job_id": id, "state": queuex.StateWaiting})
	}
}
