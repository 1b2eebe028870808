package gateway

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/FrenchMajesty/ingredient-filter/pkg/evaluator"
	"github.com/FrenchMajesty/ingredient-filter/pkg/jobs"
	"github.com/FrenchMajesty/ingredient-filter/pkg/types"
)

type analyzeRequest struct {
	JobID          string   `json:"job_id"`
	Ingredients    []string `json:"ingredients"`
	IngredientText string   `json:"ingredient_text"`
	Filters        []string `json:"filters"`
}

type statusResponse struct {
	JobID   string                             `json:"job_id"`
	Status  jobs.Status                        `json:"status"`
	Results map[types.Filter]evaluator.Outcome `json:"results,omitempty"`
	Failing map[types.Filter][]string          `json:"failing,omitempty"`
	Error   string                             `json:"error,omitempty"`
}

type resultsResponse struct {
	JobID       string                             `json:"job_id"`
	Status      jobs.Status                        `json:"status"`
	Results     map[types.Filter]evaluator.Outcome `json:"results"`
	Failing     map[types.Filter][]string          `json:"failing"`
	Ingredients []string                           `json:"ingredients"`
	Filters     []types.Filter                     `json:"filters"`
}

type ingredientView struct {
	Name   string        `json:"name"`
	Flags  types.FlagSet `json:"flags"`
	Source types.Source  `json:"source"`
}

// jsonError returns an error response with the given HTTP status code.
func jsonError(c fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"status": "error",
		"error":  message,
	})
}

// submitErrorStatus maps orchestrator errors onto HTTP codes
func submitErrorStatus(err error) int {
	switch {
	case errors.Is(err, jobs.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, jobs.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, jobs.ErrDuplicateJob):
		return fiber.StatusConflict
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrShuttingDown):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// analyze accepts either an ingredient list or raw label text
func (s *Server) analyze(c fiber.Ctx) error {
	var body analyzeRequest
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid JSON body")
	}

	ingredients := body.Ingredients
	if len(ingredients) == 0 && body.IngredientText != "" {
		ingredients = types.SplitIngredients(body.IngredientText)
	}

	id, err := s.jobs.Submit(c.Context(), jobs.Request{
		ID:          body.JobID,
		Ingredients: ingredients,
		Filters:     body.Filters,
	})
	if err != nil {
		return jsonError(c, submitErrorStatus(err), err.Error())
	}

	return c.Status(fiber.StatusAccepted).JSON(statusResponse{
		JobID:  id,
		Status: jobs.StatusPending,
	})
}

func (s *Server) status(c fiber.Ctx) error {
	job, err := s.jobs.Get(c.Params("id"))
	if err != nil {
		return jsonError(c, submitErrorStatus(err), "job not found")
	}
	return c.JSON(statusResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Results: job.Results,
		Failing: job.Failing,
		Error:   job.Error,
	})
}

// results answers 202 until the job is terminal
func (s *Server) results(c fiber.Ctx) error {
	job, err := s.jobs.Get(c.Params("id"))
	if err != nil {
		return jsonError(c, submitErrorStatus(err), "job not found")
	}

	switch job.Status {
	case jobs.StatusError:
		return c.Status(fiber.StatusInternalServerError).JSON(statusResponse{
			JobID:  job.ID,
			Status: job.Status,
			Error:  job.Error,
		})
	case jobs.StatusComplete:
		return c.JSON(resultsResponse{
			JobID:       job.ID,
			Status:      job.Status,
			Results:     job.Results,
			Failing:     job.Failing,
			Ingredients: job.Ingredients,
			Filters:     job.Filters,
		})
	default:
		return c.Status(fiber.StatusAccepted).JSON(statusResponse{
			JobID:  job.ID,
			Status: job.Status,
		})
	}
}

func (s *Server) abort(c fiber.Ctx) error {
	id := c.Params("id")
	if err := s.jobs.Abort(id); err != nil {
		return jsonError(c, submitErrorStatus(err), "job not found")
	}
	job, err := s.jobs.Get(id)
	if err != nil {
		// swept between abort and read
		return c.JSON(statusResponse{JobID: id, Status: jobs.StatusError})
	}
	return c.JSON(statusResponse{JobID: job.ID, Status: job.Status, Error: job.Error})
}

func (s *Server) health(c fiber.Ctx) error {
	if err := s.store.Ping(c.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}
	return c.JSON(fiber.Map{"status": "healthy"})
}

// seed starts the catalogue load in the background; one at a time
func (s *Server) seed(c fiber.Ctx) error {
	if s.seeder == nil {
		return jsonError(c, fiber.StatusNotImplemented, "seeding is not configured")
	}
	if !s.seeding.CompareAndSwap(false, true) {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "already running"})
	}

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer s.seeding.Store(false)

		res, err := s.seeder(s.baseCtx)
		if err != nil {
			s.logger.Error("seeding failed", "loaded", res.Loaded, "failed", res.Failed, "error", err)
			return
		}
		s.logger.Info("seeding finished", "loaded", res.Loaded)
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "started"})
}

func (s *Server) listIngredients(c fiber.Ctx) error {
	records, err := s.store.ListAll(c.Context())
	if err != nil {
		s.logger.Error("failed to list ingredients", "error", err)
		return jsonError(c, fiber.StatusInternalServerError, "failed to list ingredients")
	}

	views := make([]ingredientView, 0, len(records))
	for _, r := range records {
		views = append(views, ingredientView{Name: r.Name, Flags: r.Flags, Source: r.Source})
	}
	return c.JSON(fiber.Map{
		"count":       len(views),
		"ingredients": views,
	})
}

func (s *Server) clearIngredients(c fiber.Ctx) error {
	deleted, err := s.store.Clear(c.Context())
	if err != nil {
		s.logger.Error("failed to clear ingredients", "error", err)
		return jsonError(c, fiber.StatusInternalServerError, "failed to clear ingredients")
	}
	return c.JSON(fiber.Map{"deleted": deleted})
}
