package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/voyagekit/travel-concierge/internal/client"
	"github.com/voyagekit/travel-concierge/internal/llm"
	"github.com/voyagekit/travel-concierge/internal/models"
	"github.com/voyagekit/travel-concierge/internal/validation"
)

const exchangeSystemPrompt = "You are an exchange rate assistant."

// RateProvider supplies currency conversion rates for the exchange tool.
type RateProvider interface {
	GetRate(ctx context.Context, from, to string) (models.ExchangeRate, error)
}

// ExchangeAgent answers currency questions with a get_exchange_rate tool.
// The caller's local currency is detected from their IP so the model never
// has to ask for it.
type ExchangeAgent struct {
	llm           llm.Client
	rates         RateProvider
	geoip         client.GeoIPClient
	maxIterations int
	logger        *zap.Logger
}

// NewExchangeAgent creates an ExchangeAgent. geoip may be nil, in which case
// the local currency defaults to USD.
func NewExchangeAgent(llmClient llm.Client, rates RateProvider, geoip client.GeoIPClient, maxIterations int, logger *zap.Logger) *ExchangeAgent {
	return &ExchangeAgent{
		llm:           llmClient,
		rates:         rates,
		geoip:         geoip,
		maxIterations: maxIterations,
		logger:        logger,
	}
}

// Name implements Agent.
func (a *ExchangeAgent) Name() string { return "exchange" }

// Description implements Agent.
func (a *ExchangeAgent) Description() string { return "for currency or travel money queries" }

var exchangeToolSchema = mustSchema(`{
	"type": "object",
	"properties": {
		"to_currency": {"type": "string", "description": "Target currency as an ISO 4217 code, e.g. EUR"},
		"from_currency": {"type": "string", "description": "Source currency as an ISO 4217 code. Defaults to the user's local currency."}
	},
	"required": ["to_currency"]
}`)

// Run implements Agent.
func (a *ExchangeAgent) Run(ctx context.Context, st *State) (string, error) {
	return observeRun(a.Name(), func() (string, error) {
		local := detectLocalCurrency(ctx, a.geoip, st.ClientIP)

		tools := []llm.Tool{{
			Type: "function",
			Function: llm.FunctionDef{
				Name:        "get_exchange_rate",
				Description: "Fetch the current exchange rate from the local currency to the target currency.",
				Parameters:  exchangeToolSchema,
			},
		}}
		seed := []llm.Message{
			llm.SystemMessage(exchangeSystemPrompt),
			llm.UserMessage(fmt.Sprintf(
				"Provide the exchange rate from the local currency (%s) to the target currency requested by the user. Do not ask the user for their local currency.", local)),
			llm.UserMessage(st.Input),
		}
		handlers := map[string]toolFunc{
			"get_exchange_rate": a.rateHandler(local),
		}
		return runToolLoop(ctx, a.llm, a.logger, a.Name(), seed, tools, handlers, a.maxIterations)
	})
}

// rateHandler binds the detected local currency as the default source.
func (a *ExchangeAgent) rateHandler(localCurrency string) toolFunc {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var params struct {
			ToCurrency   string `json:"to_currency"`
			FromCurrency string `json:"from_currency"`
		}
		if err := json.Unmarshal(args, &params); err != nil {
			return "", fmt.Errorf("parse get_exchange_rate arguments: %w", err)
		}
		from := params.FromCurrency
		if from == "" {
			from = localCurrency
		}
		from, err := validation.ValidateCurrencyCode(from)
		if err != nil {
			return fmt.Sprintf("Error: %q is not a valid ISO 4217 currency code.", params.FromCurrency), nil
		}
		to, err := validation.ValidateCurrencyCode(params.ToCurrency)
		if err != nil {
			return fmt.Sprintf("Error: %q is not a valid ISO 4217 currency code.", params.ToCurrency), nil
		}

		rate, err := a.rates.GetRate(ctx, from, to)
		if err != nil {
			return fmt.Sprintf("Error fetching exchange rate: %v", err), nil
		}
		return strconv.FormatFloat(rate.Rate, 'f', -1, 64), nil
	}
}
