// Package narrative turns attention-flagged forecast summaries into short
// operator notes via the OpenAI API. The generator is optional: without an
// API key the daemon runs without narratives.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/fjordops/growthd/internal/models"
)

type Generator struct {
	client openai.Client
	model  string
}

// NewGenerator reads OPENAI_API_KEY for authentication and fails when it
// is unset so callers can disable narratives cleanly.
func NewGenerator() (*Generator, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
	)

	return &Generator{
		client: client,
		model:  "gpt-4o-mini",
	}, nil
}

// Generate produces a 2-3 sentence operations note for one summary.
func (g *Generator) Generate(ctx context.Context, f models.ForecastSummary) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You write terse operations notes for an aquaculture site manager. " +
				"Two or three sentences, plain language, no markdown, metric units."),
			openai.UserMessage(prompt(f)),
		},
		MaxTokens: openai.Int(160),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no completion returned")
	}

	note := strings.TrimSpace(resp.Choices[0].Message.Content)
	if note == "" {
		return "", errors.New("empty completion returned")
	}
	log.Printf("narrative: generated note for %s (%d chars)", f.AssignmentID, len(note))
	return note, nil
}

// prompt flattens the summary into the facts the model may use. Nothing
// outside this text should influence the note.
func prompt(f models.ForecastSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Assignment %s, stage %s.\n", f.AssignmentID, f.Stage)
	fmt.Fprintf(&b, "Current: %.0f g average weight, %d fish, %.1f kg biomass.\n",
		f.CurrentWeightG, f.CurrentPopulation, f.CurrentBiomassKG)
	if f.HarvestDate.Valid {
		fmt.Fprintf(&b, "Projected harvest threshold crossing: %s (%d days out).\n",
			f.HarvestDate.Time.Format("2006-01-02"), f.DaysToHarvest.Int64)
	}
	if f.TransferDate.Valid {
		fmt.Fprintf(&b, "Projected transfer threshold crossing: %s (%d days out).\n",
			f.TransferDate.Time.Format("2006-01-02"), f.DaysToTransfer.Int64)
	}
	if f.VarianceDays.Valid {
		fmt.Fprintf(&b, "Variance against the planned end date: %+d days.\n", f.VarianceDays.Int64)
	}
	if f.ProjectionPartial {
		b.WriteString("The temperature profile ran out before the horizon; the projection is truncated.\n")
	}
	if f.AttentionReason.Valid {
		fmt.Fprintf(&b, "Attention: %s.\n", f.AttentionReason.String)
	}
	b.WriteString("Write the note for the site manager.")
	return b.String()
}
