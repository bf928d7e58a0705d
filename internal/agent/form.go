package agent

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/voyagekit/travel-concierge/internal/llm"
	"github.com/voyagekit/travel-concierge/internal/models"
)

// The booking form schema. Field order in this file drives the order topics
// come up in conversation.
//
//go:embed form.json
var formSchema []byte

// formFields lists the schema's top-level fields in declaration order.
var formFields = mustSchemaFields(formSchema)

// mustSchemaFields extracts top-level key names from a JSON object in order.
func mustSchemaFields(schema []byte) []string {
	dec := json.NewDecoder(bytes.NewReader(schema))
	tok, err := dec.Token()
	if err != nil {
		panic("invalid form schema: " + err.Error())
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		panic("form schema must be a JSON object")
	}
	var fields []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			panic("invalid form schema: " + err.Error())
		}
		key, ok := tok.(string)
		if !ok {
			panic("form schema key is not a string")
		}
		fields = append(fields, key)
		var discard json.RawMessage
		if err := dec.Decode(&discard); err != nil {
			panic("invalid form schema value for " + key)
		}
	}
	return fields
}

// fieldDescriptions explains each schema field for the conversation prompt.
var fieldDescriptions = map[string]string{
	"budget":                 "their budget for the trip (how much they want to spend)",
	"typeOfHoliday":          "type of holiday (adventure, beach, cultural, relaxation, etc.)",
	"travelGroup":            "travel group (solo, couple, family, friends)",
	"availability":           "trip dates (when they want to travel - start and end dates)",
	"destinationPreferences": "destination preferences (where they'd like to go)",
}

// extractionRules tells the extraction prompt how each field is encoded.
var extractionRules = map[string]string{
	"budget":                 "extract as NUMBER only (e.g., 2500 not \"2500\" or \"2.5k\")",
	"typeOfHoliday":          "beach, adventure, cultural, relaxation, etc",
	"travelGroup":            "solo, couple, family, friends, group",
	"availability":           "only if they mention specific dates, as {\"startDate\": \"YYYY-MM-DD\", \"endDate\": \"YYYY-MM-DD\"}",
	"destinationPreferences": "list of place names",
}

// TripFormState is the booking form progress carried in the request state.
type TripFormState struct {
	Data            models.TripForm
	CompletedFields []string
	Complete        bool
}

// FormAgent collects travel booking details through natural conversation. It
// extracts facts from each message into the form and asks about what is
// still missing, or thanks the user once everything is collected.
type FormAgent struct {
	llm    llm.Client
	logger *zap.Logger
}

// NewFormAgent creates a FormAgent.
func NewFormAgent(llmClient llm.Client, logger *zap.Logger) *FormAgent {
	return &FormAgent{llm: llmClient, logger: logger}
}

// Name implements Agent.
func (a *FormAgent) Name() string { return "form" }

// Description implements Agent.
func (a *FormAgent) Description() string {
	return "for creating and collecting travel booking information"
}

// Run implements Agent. Extraction failures are not fatal; the conversation
// continues with whatever was understood.
func (a *FormAgent) Run(ctx context.Context, st *State) (string, error) {
	return observeRun(a.Name(), func() (string, error) {
		form := a.extractFormData(ctx, st.Input, st.Form.Data)
		completed := completedFields(form)
		complete := isFormComplete(form)
		st.Form = TripFormState{Data: form, CompletedFields: completed, Complete: complete}

		if complete {
			return a.thankYou(ctx, form)
		}
		return a.nextQuestion(ctx, st.Input, completed)
	})
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// extractedForm is the shape the extraction prompt asks for. Pointers
// distinguish "not mentioned" from zero values.
type extractedForm struct {
	Budget                 *float64             `json:"budget"`
	TypeOfHoliday          *string              `json:"typeOfHoliday"`
	TravelGroup            *string              `json:"travelGroup"`
	Availability           *models.Availability `json:"availability"`
	DestinationPreferences []string             `json:"destinationPreferences"`
}

// extractFormData asks the model to pull booking facts out of the message
// and merges them into the current form. Unparseable responses leave the
// form unchanged.
func (a *FormAgent) extractFormData(ctx context.Context, userMessage string, current models.TripForm) models.TripForm {
	currentJSON, _ := json.MarshalIndent(current, "", "  ")

	var rules []string
	for _, field := range formFields {
		if r, ok := extractionRules[field]; ok {
			rules = append(rules, fmt.Sprintf("- %s: %s", field, r))
		}
	}

	prompt := fmt.Sprintf(`Extract travel information from this user message.

User said: %q

Already have: %s

Rules:
%s

Return ONLY valid JSON. If no info found, return {}.

Examples:
{"budget": 2500}
{"typeOfHoliday": "beach", "travelGroup": "family"}
{"destinationPreferences": ["Bali", "Thailand"]}

JSON only:`, userMessage, currentJSON, strings.Join(rules, "\n"))

	reply, err := a.llm.Chat(ctx, llm.Request{Messages: []llm.Message{
		llm.SystemMessage(prompt),
		llm.UserMessage("Extract the information."),
	}})
	if err != nil {
		if a.logger != nil {
			a.logger.Warn("form extraction failed", zap.Error(err))
		}
		return current
	}

	raw := jsonObjectPattern.FindString(reply.Content)
	if raw == "" {
		return current
	}
	var extracted extractedForm
	if err := json.Unmarshal([]byte(raw), &extracted); err != nil {
		return current
	}

	if extracted.Budget != nil && *extracted.Budget != 0 {
		current.Budget = *extracted.Budget
	}
	if extracted.TypeOfHoliday != nil && *extracted.TypeOfHoliday != "" {
		current.TypeOfHoliday = *extracted.TypeOfHoliday
	}
	if extracted.TravelGroup != nil && *extracted.TravelGroup != "" {
		current.TravelGroup = *extracted.TravelGroup
	}
	if extracted.Availability != nil {
		if extracted.Availability.StartDate != "" {
			current.Availability.StartDate = extracted.Availability.StartDate
		}
		if extracted.Availability.EndDate != "" {
			current.Availability.EndDate = extracted.Availability.EndDate
		}
	}
	if len(extracted.DestinationPreferences) > 0 {
		current.DestinationPreferences = extracted.DestinationPreferences
	}
	return current
}

// completedFields lists human-readable names of fields that have data,
// following schema order with the date range broken out.
func completedFields(form models.TripForm) []string {
	var completed []string
	for _, field := range formFields {
		switch field {
		case "budget":
			if form.Budget != 0 {
				completed = append(completed, formatFieldName(field))
			}
		case "typeOfHoliday":
			if form.TypeOfHoliday != "" {
				completed = append(completed, formatFieldName(field))
			}
		case "travelGroup":
			if form.TravelGroup != "" {
				completed = append(completed, formatFieldName(field))
			}
		case "availability":
			if form.Availability.StartDate != "" {
				completed = append(completed, "start date")
			}
			if form.Availability.EndDate != "" {
				completed = append(completed, "end date")
			}
		case "destinationPreferences":
			if len(form.DestinationPreferences) > 0 {
				completed = append(completed, formatFieldName(field))
			}
		}
	}
	return completed
}

// isFormComplete reports whether every field the trip search needs is filled.
func isFormComplete(form models.TripForm) bool {
	return form.Budget != 0 &&
		form.TypeOfHoliday != "" &&
		form.TravelGroup != "" &&
		form.Availability.StartDate != "" &&
		form.Availability.EndDate != "" &&
		len(form.DestinationPreferences) > 0
}

var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

// formatFieldName converts a camelCase field name to readable form:
// "typeOfHoliday" -> "type of holiday".
func formatFieldName(field string) string {
	return strings.ToLower(camelBoundary.ReplaceAllString(field, "$1 $2"))
}

func (a *FormAgent) thankYou(ctx context.Context, form models.TripForm) (string, error) {
	prompt := fmt.Sprintf(`The user has provided all the information needed for their trip:
- Budget: $%g
- Type: %s
- Traveling: %s
- Dates: %s to %s
- Destinations: %s

Write a warm, brief thank you message. Let them know you have everything you need and will help them find the perfect trip. Keep it to 2-3 sentences.`,
		form.Budget, form.TypeOfHoliday, form.TravelGroup,
		form.Availability.StartDate, form.Availability.EndDate,
		strings.Join(form.DestinationPreferences, ", "))

	reply, err := a.llm.Chat(ctx, llm.Request{Messages: []llm.Message{
		llm.SystemMessage(prompt),
		llm.UserMessage("Generate the thank you message."),
	}})
	if err != nil {
		return "", err
	}
	return reply.Content, nil
}

func (a *FormAgent) nextQuestion(ctx context.Context, userMessage string, completed []string) (string, error) {
	var topics []string
	for i, field := range formFields {
		desc := fieldDescriptions[field]
		if desc == "" {
			desc = field
		}
		topics = append(topics, fmt.Sprintf("%d. %s", i+1, desc))
	}

	prompt := fmt.Sprintf(`You are a friendly travel advisor having a casual conversation.

Your hidden goal is to naturally learn about:
%s

IMPORTANT: You are NOT filling out a form. You're having a natural, friendly chat. Ask casual questions like you're talking to a friend. When they mention something relevant to any of these topics, just acknowledge it naturally and move on to the next topic.

Be conversational, warm, and genuinely interested. Ask one topic at a time. Don't be rigid or formal.
The user may give vague answers and you should interpret and decide on a reasonable value.

Current collected info will be provided. Ask about missing topics naturally.`, strings.Join(topics, "\n"))

	if len(completed) > 0 {
		prompt += fmt.Sprintf("\n\nSo far I know: %s", strings.Join(completed, ", "))
	}

	reply, err := a.llm.Chat(ctx, llm.Request{Messages: []llm.Message{
		llm.SystemMessage(prompt),
		llm.UserMessage(userMessage),
	}, Temperature: 0.7})
	if err != nil {
		return "", err
	}
	return reply.Content, nil
}
