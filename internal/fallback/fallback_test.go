package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/scanquest/scanquest-server-go/internal/card"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestUnknownArtifact(t *testing.T) {
	c := UnknownArtifact(" XJ-9 ")
	assert.Equal(t, "XJ-9", c.ID)
	assert.Equal(t, "Neznámý Artefakt", c.Title)
	assert.Equal(t, card.TypeItem, c.Type)
	assert.Equal(t, card.RarityCommon, c.Rarity)
	assert.Equal(t, []card.Stat{{Label: "HP", Value: "+5"}}, c.Stats)
	assert.False(t, c.IsConsumable)
	assert.True(t, c.CanBeSaved)
	assert.Equal(t, UnknownArtifact("XJ-9"), UnknownArtifact("XJ-9"))
}

func TestCompleteFillsDefaults(t *testing.T) {
	c := Complete("qr-1", card.Card{ID: "whatever", Type: "spell", Rarity: "Mythic", Title: "Shard"})
	assert.Equal(t, "qr-1", c.ID)
	assert.Equal(t, card.TypeItem, c.Type)
	assert.Equal(t, card.RarityCommon, c.Rarity)
	assert.True(t, c.CanBeSaved)

	trap := Complete("qr-2", card.Card{Type: "trap", Rarity: card.RarityEpic})
	assert.Equal(t, card.TypeTrap, trap.Type)
	assert.Equal(t, card.RarityEpic, trap.Rarity)
	assert.Equal(t, UnknownTitle, trap.Title)
}

func TestParseCard(t *testing.T) {
	reply := "Here you go:\n```json\n{\"title\":\"Glowing Moss\",\"type\":\"ITEM\",\"stats\":[{\"label\":\"MANA\",\"value\":\"+8\"}]}\n```"
	c, err := ParseCard("moss", reply)
	require.NoError(t, err)
	assert.Equal(t, "Glowing Moss", c.Title)
	assert.Equal(t, []card.Stat{{Label: "MANA", Value: "+8"}}, c.Stats)

	_, err = ParseCard("moss", "I cannot help with that.")
	assert.Error(t, err)
}

func TestMemoIsDeterministicPerCode(t *testing.T) {
	var calls atomic.Int32
	m := NewMemo(InterpreterFunc(func(_ context.Context, code string) (card.Card, error) {
		n := calls.Add(1)
		return card.Card{Title: code, Stats: []card.Stat{{Label: "GOLD", Value: card.Int(int(n))}}}, nil
	}))
	ctx := context.Background()

	first, err := m.InterpretUnknownCode(ctx, "ABC")
	require.NoError(t, err)
	second, err := m.InterpretUnknownCode(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())

	first.Stats[0].Value = "+999"
	third, _ := m.InterpretUnknownCode(ctx, "ABC")
	assert.Equal(t, card.StatValue("+1"), third.Stats[0].Value)
}

func TestMemoDoesNotRememberFailures(t *testing.T) {
	fail := true
	m := NewMemo(InterpreterFunc(func(context.Context, string) (card.Card, error) {
		if fail {
			return card.Card{}, errors.New("quota exceeded")
		}
		return card.Card{Title: "Late"}, nil
	}))
	ctx := context.Background()

	_, err := m.InterpretUnknownCode(ctx, "x")
	require.Error(t, err)

	fail = false
	c, err := m.InterpretUnknownCode(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "Late", c.Title)
}

func TestMemoCollapsesConcurrentCalls(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	m := NewMemo(InterpreterFunc(func(context.Context, string) (card.Card, error) {
		calls.Add(1)
		<-release
		return card.Card{Title: "Once"}, nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := m.InterpretUnknownCode(context.Background(), "same")
			assert.NoError(t, err)
			assert.Equal(t, "Once", c.Title)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, calls.Load(), int32(2))
}

func TestOpenAIInterpreter(t *testing.T) {
	var gotSeed atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Seed int64 `json:"seed"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotSeed.Store(body.Seed)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"title\":\"Rezavý klíč\",\"type\":\"ITEM\",\"rarity\":\"Rare\",\"stats\":[{\"label\":\"GOLD\",\"value\":\"+12\"}]}"}
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30}
		}`))
	}))
	t.Cleanup(srv.Close)

	interp, err := NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/", Timeout: 2 * time.Second}, zaptest.NewLogger(t))
	require.NoError(t, err)

	c, err := interp.InterpretUnknownCode(context.Background(), "KEY-7")
	require.NoError(t, err)
	assert.Equal(t, "KEY-7", c.ID)
	assert.Equal(t, "Rezavý klíč", c.Title)
	assert.Equal(t, card.RarityRare, c.Rarity)
	assert.Equal(t, seedFor("key-7"), gotSeed.Load())
}

func TestOpenAIRequiresKey(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{}, nil)
	assert.Error(t, err)
}
