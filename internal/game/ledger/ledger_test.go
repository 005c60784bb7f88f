package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/scanquest/scanquest-server-go/internal/card"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingPersister struct {
	mu    sync.Mutex
	saved []State
	err   error
}

func (p *recordingPersister) SavePlayer(_ context.Context, _ string, s State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = append(p.saved, s)
	return p.err
}

func TestDefaults(t *testing.T) {
	s := Defaults()
	assert.Equal(t, 100, s.HP)
	assert.Equal(t, 100, s.Mana)
	assert.Equal(t, 100, s.Gold)
	assert.Zero(t, s.Armor)
}

func TestClampedBounds(t *testing.T) {
	s := State{HP: 130, Mana: -4, Gold: -50, Armor: -3, Luck: 500, Oxygen: -1}.Clamped()
	assert.Equal(t, 100, s.HP)
	assert.Equal(t, 0, s.Mana)
	assert.Equal(t, 0, s.Gold)
	assert.Equal(t, -3, s.Armor, "armor is not clamped")
	assert.Equal(t, 500, s.Luck, "luck is not clamped")
	assert.Equal(t, -1, s.Oxygen, "oxygen is not clamped")
}

func TestAddReturnsEffectiveDelta(t *testing.T) {
	p := &recordingPersister{}
	l := New("u1", State{HP: 95, Mana: 50, Gold: 10}, p, zaptest.NewLogger(t))
	ctx := context.Background()

	applied, err := l.Add(ctx, FieldHP, 20)
	require.NoError(t, err)
	assert.Equal(t, 5, applied)
	assert.Equal(t, 100, l.Snapshot().HP)

	applied, err = l.Add(ctx, FieldGold, -30)
	require.NoError(t, err)
	assert.Equal(t, -10, applied)
	assert.Equal(t, 0, l.Snapshot().Gold)

	applied, err = l.Add(ctx, FieldGold, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1000, applied, "gold has no ceiling")

	assert.Len(t, p.saved, 3, "every mutation writes through")
	assert.Equal(t, l.Snapshot(), p.saved[2])
}

func TestBatchPersistsOnce(t *testing.T) {
	p := &recordingPersister{}
	l := New("u1", Defaults(), p, nil)

	applied, s, err := l.Batch(context.Background(), func(tx *Tx) {
		tx.Add(FieldHP, -15)
		tx.Add(FieldHP, -10)
		tx.Add(FieldGold, 30)
	})
	require.NoError(t, err)
	assert.Equal(t, -25, applied[FieldHP])
	assert.Equal(t, 30, applied[FieldGold])
	assert.Equal(t, 75, s.HP)
	assert.Len(t, p.saved, 1)
}

func TestPersistenceFailureKeepsMutation(t *testing.T) {
	boom := errors.New("disk full")
	p := &recordingPersister{err: boom}
	l := New("u1", Defaults(), p, zaptest.NewLogger(t))

	_, err := l.Add(context.Background(), FieldHP, -40)
	require.Error(t, err)
	assert.ErrorIs(t, err, card.ErrPersistence)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 60, l.Snapshot().HP, "in-memory state stays committed")
}

func TestNilPersisterWorks(t *testing.T) {
	l := New("u1", Defaults(), nil, nil)
	s, err := l.Set(context.Background(), FieldMana, 250)
	require.NoError(t, err)
	assert.Equal(t, 100, s.Mana)
}

func TestConcurrentMutationsPersistInCommitOrder(t *testing.T) {
	p := &recordingPersister{}
	l := New("u1", State{Gold: 0}, p, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Add(context.Background(), FieldGold, 1)
		}()
	}
	wg.Wait()

	require.Len(t, p.saved, 50)
	for i, s := range p.saved {
		assert.Equal(t, i+1, s.Gold)
	}
}

func TestParseField(t *testing.T) {
	f, ok := ParseField("oxygen")
	assert.True(t, ok)
	assert.Equal(t, FieldOxygen, f)

	_, ok = ParseField("stamina")
	assert.False(t, ok)
}
