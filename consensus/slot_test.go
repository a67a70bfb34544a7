package consensus

import (
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"
)

func TestRoundTickerTicks(t *testing.T) {
	defer leaktest.Check(t)()

	rt := NewRoundTicker(20 * time.Millisecond)
	rt.SetLogger(log.TestingLogger())
	require.NoError(t, rt.Start())

	var last int64
	for i := 0; i < 3; i++ {
		select {
		case ti := <-rt.Chan():
			assert.Greater(t, ti.Seq, last)
			last = ti.Seq
		case <-time.After(time.Second):
			t.Fatal("ticker did not tick")
		}
	}
	require.NoError(t, rt.Stop())
}

func TestRoundTickerDropsUnconsumedTicks(t *testing.T) {
	defer leaktest.Check(t)()

	rt := NewRoundTicker(5 * time.Millisecond)
	require.NoError(t, rt.Start())
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, rt.Stop())

	// only one tick is buffered
	assert.Len(t, rt.Chan(), 1)
	ti := <-rt.Chan()
	assert.EqualValues(t, 1, ti.Seq)
}
