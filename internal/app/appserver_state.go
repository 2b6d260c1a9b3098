package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"keyprobe/internal/core/scheduler"
	"keyprobe/internal/service/web"
	"keyprobe/internal/shared/logger"
	"keyprobe/internal/shared/settings"
	"keyprobe/internal/shared/types"
	"keyprobe/proxypool"
)

// batchState is one running (or the last finished) query batch.
type batchState struct {
	id     string
	sched  *scheduler.Scheduler
	cancel context.CancelFunc
	done   chan struct{}
}

// StartQuery 从 key 存储中选出待查询的 key 并启动一个批次。
// 配置在此刻被拍成快照，批次运行期间不再变化。
func (s *AppServer) StartQuery(skipSucceeded bool) (*types.BatchInfo, error) {
	s.batchLock.Lock()
	defer s.batchLock.Unlock()

	if s.batch != nil {
		return nil, ErrBatchRunning
	}
	if err := s.ctx.Err(); err != nil {
		return nil, fmt.Errorf("server is shutting down: %w", err)
	}

	keys := s.store.SelectForQuery(skipSucceeded)
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}

	rc := settings.NewRunConfig(s.settingsManager.Get())
	specs, err := s.poolSpecs(rc)
	if err != nil {
		return nil, err
	}
	pool := proxypool.New(specs, rc.MaxConnPerProxy)
	globalCap := rc.GlobalCap(pool.Len())

	v := s.newValidator(rc)
	sched := scheduler.New(v, pool, globalCap)

	ctx, cancel := context.WithCancel(s.ctx)
	s.store.MarkWaiting(keys)
	events, err := sched.Run(ctx, keys)
	if err != nil {
		cancel()
		v.Close()
		s.store.Settle()
		return nil, err
	}

	b := &batchState{
		id:     uuid.New().String(),
		sched:  sched,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.batch = b
	s.lastBatch = b

	logger.Info().
		Str("batch_id", b.id).
		Int("keys", len(keys)).
		Int("proxies", pool.Len()).
		Int("global_cap", globalCap).
		Bool("skip_succeeded", skipSucceeded).
		Msg("Query batch started.")

	s.waitGroup.Add(1)
	go s.consume(b, events, v)

	return &types.BatchInfo{ID: b.id, Count: len(keys), GlobalCap: globalCap, Proxies: pool.Len()}, nil
}

// consume 是批次事件的唯一消费者：更新 key 存储、推送 WebSocket、通知监听者。
func (s *AppServer) consume(b *batchState, events <-chan scheduler.Event, v BatchValidator) {
	defer s.waitGroup.Done()
	l := logger.WithComponent("AppServer").With().Str("batch_id", b.id).Logger()
	started := time.Now()

	for ev := range events {
		switch ev.Type {
		case scheduler.EventAdmitted:
			s.store.MarkQuerying(ev.Key)
			s.hub.BroadcastKeyAdmitted(&web.KeyAdmittedEvent{BatchID: b.id, Key: ev.Key, Proxy: proxypool.RedactAddress(ev.Proxy)})
		case scheduler.EventOutcome:
			s.store.SetOutcome(ev.Outcome)
			s.hub.BroadcastKeyResult(ev.Outcome)
		case scheduler.EventBatchComplete:
			s.store.Settle()
			if err := s.store.Save(); err != nil {
				l.Error().Err(err).Msg("Failed to save key store after batch.")
			}
			s.hub.BroadcastBatchComplete(&web.BatchCompleteEvent{
				BatchID:   b.id,
				Submitted: ev.Stats.Submitted,
				Completed: ev.Stats.Completed,
				Skipped:   ev.Stats.Submitted - ev.Stats.Completed,
				Stopped:   ev.Stats.Stopped,
				Timestamp: time.Now(),
			})
			l.Info().
				Int("completed", ev.Stats.Completed).
				Bool("stopped", ev.Stats.Stopped).
				Dur("elapsed", time.Since(started)).
				Msg("Query batch finished.")
		}
		s.notifyListeners(b.id, ev)
	}

	v.Close()
	b.cancel()

	s.batchLock.Lock()
	if s.batch == b {
		s.batch = nil
	}
	s.batchLock.Unlock()
	close(b.done)
}

func (s *AppServer) notifyListeners(batchID string, ev scheduler.Event) {
	s.listenersLock.RLock()
	defer s.listenersLock.RUnlock()
	for _, fn := range s.listeners {
		fn(batchID, ev)
	}
}

// StopQuery 请求当前批次停止派发新的 key，已在查询中的 key 会完成并上报。
// 没有运行中的批次时返回 false。
func (s *AppServer) StopQuery() bool {
	s.batchLock.Lock()
	b := s.batch
	s.batchLock.Unlock()
	if b == nil {
		return false
	}
	logger.Info().Str("batch_id", b.id).Msg("Stop requested for query batch.")
	b.sched.Stop()
	return true
}

// WaitQuery blocks until the current batch, if any, has finished and its
// results are stored.
func (s *AppServer) WaitQuery(ctx context.Context) error {
	s.batchLock.Lock()
	b := s.batch
	s.batchLock.Unlock()
	if b == nil {
		return nil
	}
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueryStatus 返回当前批次 (或上一个批次) 的状态
func (s *AppServer) QueryStatus() *types.QueryStatus {
	s.batchLock.Lock()
	b := s.lastBatch
	running := s.batch != nil
	s.batchLock.Unlock()

	status := &types.QueryStatus{
		Running: running,
		Keys:    s.store.Len(),
		Proxies: []types.ProxyUsage{},
	}
	if b == nil {
		return status
	}

	stats := b.sched.Stats()
	status.BatchID = b.id
	status.Submitted = stats.Submitted
	status.Pending = stats.Pending
	status.InFlight = stats.InFlight
	status.Completed = stats.Completed
	status.Stopped = stats.Stopped
	for _, e := range b.sched.Pool().Snapshot() {
		status.Proxies = append(status.Proxies, types.ProxyUsage{Address: proxypool.RedactAddress(e.Address), Capacity: e.Capacity, InUse: e.InUse})
	}
	return status
}
