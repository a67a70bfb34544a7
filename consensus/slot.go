package consensus

import (
	"time"

	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"
)

// RoundTicker drives the coordinator's round logic.
type RoundTicker interface {
	Start() error
	Stop() error

	// Chan delivers ticks. A tick is dropped when the previous one has not
	// been consumed yet.
	Chan() <-chan tickInfo

	SetLogger(logger log.Logger)
}

type tickInfo struct {
	Seq  int64     `json:"seq"`
	Time time.Time `json:"time"`
}

type roundTicker struct {
	service.BaseService

	interval time.Duration
	tickCh   chan tickInfo
	seq      int64
}

var _ RoundTicker = (*roundTicker)(nil)

func NewRoundTicker(interval time.Duration) RoundTicker {
	t := &roundTicker{
		interval: interval,
		tickCh:   make(chan tickInfo, 1),
	}
	t.BaseService = *service.NewBaseService(nil, "RoundTicker", t)
	return t
}

func (t *roundTicker) OnStart() error {
	go t.tickRoutine()
	return nil
}

func (t *roundTicker) Chan() <-chan tickInfo {
	return t.tickCh
}

func (t *roundTicker) tickRoutine() {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			t.seq++
			select {
			case t.tickCh <- tickInfo{Seq: t.seq, Time: now}:
			default:
				t.Logger.Debug("coordinator busy, dropping tick", "seq", t.seq)
			}
		case <-t.Quit():
			return
		}
	}
}
