package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/voyagekit/travel-concierge/internal/client"
	"github.com/voyagekit/travel-concierge/internal/llm"
	"github.com/voyagekit/travel-concierge/internal/models"
)

const weatherSystemPrompt = "You are a weather assistant that helps users with forecasts."

// ForecastProvider supplies daily forecasts for the weather tool.
type ForecastProvider interface {
	GetForecast(ctx context.Context, city, date string) (models.Forecast, error)
}

// WeatherAgent answers forecast questions with a get_weather tool bound to
// the forecast service.
type WeatherAgent struct {
	llm           llm.Client
	forecasts     ForecastProvider
	maxIterations int
	logger        *zap.Logger
	now           func() time.Time // injectable for date parsing in tests
}

// NewWeatherAgent creates a WeatherAgent.
func NewWeatherAgent(llmClient llm.Client, forecasts ForecastProvider, maxIterations int, logger *zap.Logger) *WeatherAgent {
	return &WeatherAgent{
		llm:           llmClient,
		forecasts:     forecasts,
		maxIterations: maxIterations,
		logger:        logger,
		now:           time.Now,
	}
}

// Name implements Agent.
func (a *WeatherAgent) Name() string { return "weather" }

// Description implements Agent.
func (a *WeatherAgent) Description() string { return "for weather forecasts or destinations" }

var weatherToolSchema = mustSchema(`{
	"type": "object",
	"properties": {
		"city": {"type": "string", "description": "City name, e.g. Paris"},
		"date": {"type": "string", "description": "Exact date (YYYY-MM-DD) or a phrase like 'today', 'tomorrow', 'next Friday', 'in 3 days'"}
	},
	"required": ["city", "date"]
}`)

// Run implements Agent.
func (a *WeatherAgent) Run(ctx context.Context, st *State) (string, error) {
	return observeRun(a.Name(), func() (string, error) {
		tools := []llm.Tool{{
			Type: "function",
			Function: llm.FunctionDef{
				Name:        "get_weather",
				Description: "Get the weather forecast for a given city and date. The date can be exact (YYYY-MM-DD) or natural language like 'tomorrow' or 'next Friday'.",
				Parameters:  weatherToolSchema,
			},
		}}
		seed := []llm.Message{
			llm.SystemMessage(weatherSystemPrompt),
			llm.UserMessage(st.Input),
		}
		handlers := map[string]toolFunc{
			"get_weather": a.getWeather,
		}
		return runToolLoop(ctx, a.llm, a.logger, a.Name(), seed, tools, handlers, a.maxIterations)
	})
}

// getWeather is the tool handler. Bad input and missing data come back as
// content strings so the model can relay them; only transport-level failures
// surface as errors.
func (a *WeatherAgent) getWeather(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		City string `json:"city"`
		Date string `json:"date"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse get_weather arguments: %w", err)
	}

	date, err := parseNaturalDate(params.Date, a.now())
	if err != nil {
		return "Please provide a valid date or phrase like 'tomorrow' or 'next Monday'.", nil
	}

	forecast, err := a.forecasts.GetForecast(ctx, params.City, date)
	if err != nil {
		switch {
		case errors.Is(err, client.ErrCityNotFound):
			return fmt.Sprintf("Could not find location for city '%s'.", params.City), nil
		case errors.Is(err, client.ErrNoForecast):
			return fmt.Sprintf("No forecast data available for %s on %s.", params.City, date), nil
		default:
			return fmt.Sprintf("Could not fetch weather: %v", err), nil
		}
	}

	msg := fmt.Sprintf("Weather forecast for %s on %s: %g°C to %g°C", forecast.City, forecast.Date, forecast.MinTempC, forecast.MaxTempC)
	if forecast.RainChancePct != nil {
		msg += fmt.Sprintf(", with a %g%% chance of rain.", *forecast.RainChancePct)
	}
	return msg, nil
}
