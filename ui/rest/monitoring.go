package rest

import (
	"github.com/gofiber/fiber/v2"

	domainHealth "github.com/AzielCF/az-hub/domains/health"
	domainMessage "github.com/AzielCF/az-hub/domains/message"
	pkgError "github.com/AzielCF/az-hub/pkg/error"
	"github.com/AzielCF/az-hub/pkg/msgmux"
	"github.com/AzielCF/az-hub/pkg/msgpipeline"
	"github.com/AzielCF/az-hub/pkg/utils"
	"github.com/AzielCF/az-hub/validations"
)

type Monitoring struct {
	Reconnect domainHealth.IReconnectUsecase
	Mux       *msgmux.Multiplexer
	Pipeline  *msgpipeline.Pipeline
}

func InitRestMonitoring(app fiber.Router, reconnect domainHealth.IReconnectUsecase, mux *msgmux.Multiplexer, pipeline *msgpipeline.Pipeline) Monitoring {
	rest := Monitoring{Reconnect: reconnect, Mux: mux, Pipeline: pipeline}
	app.Get("/monitoring/health", rest.Health)
	app.Get("/monitoring/health/:id", rest.AccountHealth)
	app.Post("/monitoring/reconnect", rest.ReconnectAll)
	app.Post("/monitoring/reconnect/:id", rest.ForceReconnect)
	app.Get("/monitoring/metrics", rest.Metrics)
	app.Get("/monitoring/listeners", rest.Listeners)
	app.Get("/monitoring/accounts", rest.AccountStats)

	app.Get("/pipeline/stats", rest.PipelineStats)
	app.Get("/pipeline/metrics", rest.PipelineMetrics)
	app.Get("/pipeline/config", rest.PipelineConfig)
	app.Put("/pipeline/config", rest.UpdatePipelineConfig)
	app.Delete("/pipeline/queue", rest.ClearQueue)
	app.Get("/pipeline/filters", rest.ListFilters)
	app.Post("/pipeline/filters", rest.AddFilter)
	app.Delete("/pipeline/filters/:id", rest.RemoveFilter)

	return rest
}

func (handler *Monitoring) Health(c *fiber.Ctx) error {
	records, err := handler.Reconnect.GetHealth(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Account health",
		Results: records,
	})
}

func (handler *Monitoring) AccountHealth(c *fiber.Ctx) error {
	record, err := handler.Reconnect.GetAccountHealth(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Account health",
		Results: record,
	})
}

func (handler *Monitoring) ReconnectAll(c *fiber.Ctx) error {
	results, err := handler.Reconnect.ReconnectAll(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Reconnection pass completed",
		Results: results,
	})
}

func (handler *Monitoring) ForceReconnect(c *fiber.Ctx) error {
	result, err := handler.Reconnect.ForceReconnect(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Reconnect attempted",
		Results: result,
	})
}

func (handler *Monitoring) Metrics(c *fiber.Ctx) error {
	metrics, err := handler.Reconnect.GetMetrics(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Reconnection metrics",
		Results: metrics,
	})
}

func (handler *Monitoring) Listeners(c *fiber.Ctx) error {
	report := handler.Mux.ValidateListeners()

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Listener validation report",
		Results: report,
	})
}

func (handler *Monitoring) AccountStats(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Per-account message stats",
		Results: handler.Mux.ListStats(),
	})
}

func (handler *Monitoring) PipelineStats(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Pipeline processing stats",
		Results: handler.Pipeline.GetProcessingStats(),
	})
}

func (handler *Monitoring) PipelineMetrics(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Pipeline performance metrics",
		Results: handler.Pipeline.GetPerformanceMetrics(),
	})
}

func (handler *Monitoring) PipelineConfig(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Pipeline config",
		Results: handler.Pipeline.GetConfig(),
	})
}

func (handler *Monitoring) UpdatePipelineConfig(c *fiber.Ctx) error {
	var cfg domainMessage.PipelineConfig
	if err := c.BodyParser(&cfg); err != nil {
		utils.PanicIfNeeded(pkgError.ValidationError("invalid request body"))
	}

	applied := handler.Pipeline.UpdateConfig(cfg)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Pipeline config updated",
		Results: applied,
	})
}

func (handler *Monitoring) ClearQueue(c *fiber.Ctx) error {
	cleared := handler.Pipeline.ClearQueue()

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Queue cleared",
		Results: map[string]any{
			"cleared": cleared,
		},
	})
}

func (handler *Monitoring) ListFilters(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Active filters",
		Results: handler.Pipeline.ListFilters(),
	})
}

func (handler *Monitoring) AddFilter(c *fiber.Ctx) error {
	var filter domainMessage.Filter
	if err := c.BodyParser(&filter); err != nil {
		utils.PanicIfNeeded(pkgError.ValidationError("invalid request body"))
	}
	utils.PanicIfNeeded(validations.ValidateFilter(c.UserContext(), filter))

	var created domainMessage.Filter
	if filter.AccountID != "" {
		created = handler.Pipeline.AddAccountFilter(filter.AccountID, filter)
	} else {
		created = handler.Pipeline.AddGlobalFilter(filter)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.ResponseData{
		Status:  201,
		Code:    "SUCCESS",
		Message: "Filter added",
		Results: created,
	})
}

func (handler *Monitoring) RemoveFilter(c *fiber.Ctx) error {
	id := c.Params("id")
	accountID := c.Query("account_id")

	var removed bool
	if accountID != "" {
		removed = handler.Pipeline.RemoveAccountFilter(accountID, id)
	} else {
		removed = handler.Pipeline.RemoveGlobalFilter(id)
	}
	if !removed {
		utils.PanicIfNeeded(pkgError.SessionNotFoundError("filter " + id + " not found"))
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Filter removed",
	})
}
