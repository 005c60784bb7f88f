package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/scanquest/scanquest-server-go/internal/card"
	"go.uber.org/zap"
)

const systemPrompt = `Jsi vypravěč fantasy deskové hry. Hráč naskenoval neznámý kód.
Vymysli pro něj jednu herní kartu a odpověz POUZE jedním JSON objektem s poli:
"title" (string), "description" (string, max 2 věty), "type" (jeden z ITEM, ENCOUNTER, TRAP),
"rarity" (jeden z Common, Rare, Epic, Legendary), "isConsumable" (bool),
"stats" (pole objektů {"label": string, "value": string}; labely HP, DMG, GOLD nebo MANA,
hodnoty jako "+10" nebo "-5").`

// OpenAIConfig configures the OpenAI interpreter.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OpenAI asks a chat completion model to invent a card for a code.
type OpenAI struct {
	client openai.Client
	model  openai.ChatModel
	logger *zap.Logger
}

var _ Interpreter = (*OpenAI)(nil)

// NewOpenAI builds an interpreter from cfg.
func NewOpenAI(cfg OpenAIConfig, logger *zap.Logger) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(1),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	model := openai.ChatModel(cfg.Model)
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
		logger: logger,
	}, nil
}

// InterpretUnknownCode implements Interpreter. The sampling seed is derived
// from the code so repeated scans tend to produce the same card.
func (o *OpenAI) InterpretUnknownCode(ctx context.Context, code string) (card.Card, error) {
	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage("Kód: " + code),
		},
		Temperature: openai.Float(0),
		Seed:        openai.Int(seedFor(code)),
	})
	if err != nil {
		return card.Card{}, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return card.Card{}, errors.New("openai returned no choices")
	}

	o.logger.Debug("interpreted unknown code",
		zap.String("code", code),
		zap.String("model", resp.Model),
		zap.Int64("tokens", resp.Usage.TotalTokens),
		zap.Duration("latency", time.Since(start)),
	)
	return ParseCard(code, resp.Choices[0].Message.Content)
}

// ParseCard extracts the first JSON object of a model reply and completes it.
func ParseCard(code, reply string) (card.Card, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return card.Card{}, fmt.Errorf("no JSON object in reply for %q", code)
	}
	var c card.Card
	if err := json.Unmarshal([]byte(reply[start:end+1]), &c); err != nil {
		return card.Card{}, fmt.Errorf("decode interpreted card for %q: %w", code, err)
	}
	return Complete(code, c), nil
}

func seedFor(code string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(card.Key(code)))
	return int64(h.Sum64() >> 1)
}
