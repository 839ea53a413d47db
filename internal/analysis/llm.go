package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"mt5-trader/internal/models"
)

const analystSystemPrompt = `You are a forex market analyst. You receive recent candles and
technical indicators for one symbol and timeframe. Respond with a single
JSON object and nothing else:
{"action":"ENTER"|"EXIT"|"WAIT","direction":"buy"|"sell","entry_price":0,
"stop_loss":0,"take_profit":0,"reason":"...","confidence":0-100}
For ENTER, stop_loss and take_profit must bracket entry_price in the
direction of the trade with a reward at least equal to the risk.
For WAIT, only action, reason, and confidence are required.`

// LLMAnalyzer asks a chat completion model for a trading decision. It
// implements Analyzer and produces the same result shape as the
// technical analyzer, so the coordinator does not care which one runs.
type LLMAnalyzer struct {
	client *openai.Client
	model  string
}

// NewLLMAnalyzer creates an analyzer backed by the OpenAI API.
func NewLLMAnalyzer(apiKey, model string) *LLMAnalyzer {
	if model == "" {
		model = openai.GPT4o
	}
	return &LLMAnalyzer{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

type llmDecision struct {
	Action     string  `json:"action"`
	Direction  string  `json:"direction"`
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// AnalyzeMarket sends the market snapshot to the model and parses its
// decision. Malformed or inconsistent decisions degrade to WAIT rather
// than failing the analysis pass.
func (a *LLMAnalyzer) AnalyzeMarket(ctx context.Context, req Request) (*models.MarketAnalysis, error) {
	if len(req.Candles) == 0 {
		return nil, ErrInsufficientData
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: analystSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(req)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("llm analysis failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm returned no choices")
	}

	var decision llmDecision
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &decision); err != nil {
		return nil, fmt.Errorf("llm returned malformed decision: %w", err)
	}

	return a.toAnalysis(req, decision), nil
}

func (a *LLMAnalyzer) toAnalysis(req Request, decision llmDecision) *models.MarketAnalysis {
	result := &models.MarketAnalysis{
		Symbol:     req.Symbol,
		Timeframe:  req.Timeframe,
		Action:     strings.ToUpper(decision.Action),
		Reason:     decision.Reason,
		Confidence: decision.Confidence,
		Indicators: req.Indicators,
		CreatedAt:  time.Now(),
	}

	if result.Action != models.ActionEnter {
		if result.Action != models.ActionExit && result.Action != models.ActionWait {
			result.Action = models.ActionWait
			result.Reason = fmt.Sprintf("unusable decision %q: %s", decision.Action, decision.Reason)
		}
		return result
	}

	direction := models.Direction(strings.ToLower(decision.Direction))
	if !direction.Valid() || decision.EntryPrice <= 0 || decision.StopLoss <= 0 || decision.TakeProfit <= 0 {
		result.Action = models.ActionWait
		result.Reason = "decision lacked a complete entry setup"
		return result
	}

	result.Direction = direction
	result.EntryPrice = decision.EntryPrice
	result.StopLoss = decision.StopLoss
	result.TakeProfit = decision.TakeProfit
	return result
}

// buildPrompt renders the market snapshot. Only the most recent candles
// go into the prompt to keep it bounded.
func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Symbol: %s\nTimeframe: %s\nCurrent price: %.5f\n\n",
		req.Symbol, req.Timeframe, req.Candles[len(req.Candles)-1].Close)

	if len(req.Indicators) > 0 {
		b.WriteString("Indicators:\n")
		for name, value := range req.Indicators {
			fmt.Fprintf(&b, "  %s: %.5f\n", name, value)
		}
		b.WriteString("\n")
	}

	candles := req.Candles
	if len(candles) > 20 {
		candles = candles[len(candles)-20:]
	}
	b.WriteString("Recent candles (time open high low close volume):\n")
	for _, c := range candles {
		fmt.Fprintf(&b, "  %s %.5f %.5f %.5f %.5f %d\n",
			c.Timestamp.Format("2006-01-02 15:04"), c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	return b.String()
}
