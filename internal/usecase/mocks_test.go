package usecase_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"app-build-queue/internal/domain"
	"app-build-queue/internal/domain/model"
	"app-build-queue/internal/domain/ports/adapter"
	"app-build-queue/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// memQueue mirrors the Redis queue's semantics: one ordered structure keyed
// by the composite score, a shared monotonic counter, an advisory cap.
type memQueue struct {
	mu      sync.Mutex
	scores  map[string]float64
	seq     int64
	cap     int
	failErr error
}

func newMemQueue(capacity int) *memQueue {
	return &memQueue{scores: make(map[string]float64), cap: capacity}
}

func (q *memQueue) Enqueue(ctx context.Context, jobID string, tier model.Tier) (repository.EnqueueResult, error) {
	if q.failErr != nil {
		return repository.EnqueueResult{}, q.failErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.scores) >= q.cap {
		overflow := len(q.scores) - q.cap + 1
		return repository.EnqueueResult{Rejected: true, RetryAfterSeconds: overflow * 120}, nil
	}
	q.seq++
	score := model.QueueScore(tier.Profile().PriorityBoost, q.seq)
	q.scores[jobID] = score
	return repository.EnqueueResult{Position: q.rankLocked(jobID), Score: score}, nil
}

func (q *memQueue) Dequeue(ctx context.Context) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	best := ""
	for id, score := range q.scores {
		if best == "" || score < q.scores[best] {
			best = id
		}
	}
	if best != "" {
		delete(q.scores, best)
	}
	return best, nil
}

func (q *memQueue) Position(ctx context.Context, jobID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.scores[jobID]; !ok {
		return 0, nil
	}
	return q.rankLocked(jobID), nil
}

func (q *memQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.scores), nil
}

func (q *memQueue) Remove(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.scores, jobID)
	return nil
}

func (q *memQueue) rankLocked(jobID string) int {
	all := make([]float64, 0, len(q.scores))
	for _, s := range q.scores {
		all = append(all, s)
	}
	sort.Float64s(all)
	for i, s := range all {
		if s == q.scores[jobID] {
			return i + 1
		}
	}
	return 0
}

// memSemProvider hands out semaphores backed by one shared table, with the
// same count/lease semantics as the Redis implementation. The clock is
// injectable so lease expiry can be simulated.
type memSemProvider struct {
	mu     sync.Mutex
	scopes map[string]map[string]time.Time // scope -> owner -> lease expiry
	lease  time.Duration
	now    func() time.Time

	heartbeats map[string]int // scope -> heartbeat calls
}

func newMemSemProvider(lease time.Duration) *memSemProvider {
	return &memSemProvider{
		scopes:     make(map[string]map[string]time.Time),
		lease:      lease,
		now:        time.Now,
		heartbeats: make(map[string]int),
	}
}

func (p *memSemProvider) UserSlots(userID string, tier model.Tier) repository.Semaphore {
	return &memSemaphore{p: p, scope: "user:" + userID, capacity: tier.Profile().UserConcurrency}
}

func (p *memSemProvider) ProjectSlots(projectID string, tier model.Tier) repository.Semaphore {
	return &memSemaphore{p: p, scope: "project:" + projectID, capacity: tier.Profile().ProjectConcurrency}
}

func (p *memSemProvider) members(scope string) map[string]time.Time {
	if p.scopes[scope] == nil {
		p.scopes[scope] = make(map[string]time.Time)
	}
	return p.scopes[scope]
}

func (p *memSemProvider) count(scope string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.members(scope))
}

type memSemaphore struct {
	p        *memSemProvider
	scope    string
	capacity int
}

func (s *memSemaphore) Acquire(ctx context.Context, ownerID string) (bool, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	m := s.p.members(s.scope)
	if len(m) >= s.capacity {
		return false, nil
	}
	m[ownerID] = s.p.now().Add(s.p.lease)
	return true, nil
}

func (s *memSemaphore) Release(ctx context.Context, ownerID string) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	delete(s.p.members(s.scope), ownerID)
	return nil
}

func (s *memSemaphore) Heartbeat(ctx context.Context, ownerID string) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	s.p.members(s.scope)[ownerID] = s.p.now().Add(s.p.lease)
	s.p.heartbeats[s.scope]++
	return nil
}

func (s *memSemaphore) Count(ctx context.Context) (int, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	return len(s.p.members(s.scope)), nil
}

func (s *memSemaphore) CleanupStale(ctx context.Context) (int, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	m := s.p.members(s.scope)
	reclaimed := 0
	for owner, expiry := range m {
		if s.p.now().After(expiry) {
			delete(m, owner)
			reclaimed++
		}
	}
	return reclaimed, nil
}

// memJobRepo is the in-memory job-state store.
type memJobRepo struct {
	mu    sync.RWMutex
	store map[string]*model.BuildJob
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{store: make(map[string]*model.BuildJob)}
}

func (m *memJobRepo) Create(ctx context.Context, job *model.BuildJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.store[job.ID] = &cp
	return nil
}

func (m *memJobRepo) Find(ctx context.Context, id string) (*model.BuildJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) Update(ctx context.Context, job *model.BuildJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.store[job.ID] = &cp
	return nil
}

func (m *memJobRepo) ListByStatus(ctx context.Context, status model.JobStatus) ([]*model.BuildJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.BuildJob
	for _, j := range m.store {
		if j.Status == status {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memJobRepo) ListNonTerminalBefore(ctx context.Context, cutoff time.Time) ([]*model.BuildJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.BuildJob
	for _, j := range m.store {
		if !j.Status.IsTerminal() && j.EnqueuedAt.Before(cutoff) {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memJobRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, id)
	return nil
}

// memPublisher records broadcast events per job.
type memPublisher struct {
	mu      sync.Mutex
	events  map[string][]model.BuildEvent
	failErr error
}

func newMemPublisher() *memPublisher {
	return &memPublisher{events: make(map[string][]model.BuildEvent)}
}

func (p *memPublisher) Publish(ctx context.Context, jobID string, ev model.BuildEvent) error {
	if p.failErr != nil {
		return p.failErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[jobID] = append(p.events[jobID], ev)
	return nil
}

func (p *memPublisher) statuses(jobID string) []model.JobStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.JobStatus
	for _, ev := range p.events[jobID] {
		if ev.Status != "" {
			out = append(out, ev.Status)
		}
	}
	return out
}

// memUsageRepo mirrors the INCR + expire-once pattern and counts how often
// the expiry was stamped.
type memUsageRepo struct {
	mu         sync.Mutex
	counts     map[string]int
	expirySets map[string]int
}

func newMemUsageRepo() *memUsageRepo {
	return &memUsageRepo{counts: make(map[string]int), expirySets: make(map[string]int)}
}

func usageKey(userID string, now time.Time) string {
	return userID + ":" + now.UTC().Format("2006-01-02")
}

func (m *memUsageRepo) IncrementDaily(ctx context.Context, userID string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := usageKey(userID, now)
	m.counts[key]++
	if m.counts[key] == 1 {
		m.expirySets[key]++
	}
	return m.counts[key], nil
}

func (m *memUsageRepo) GetDaily(ctx context.Context, userID string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[usageKey(userID, now)], nil
}

// memDurationStore holds per-tier averages.
type memDurationStore struct {
	mu   sync.Mutex
	avgs map[model.Tier]float64
}

func newMemDurationStore() *memDurationStore {
	return &memDurationStore{avgs: make(map[model.Tier]float64)}
}

func (m *memDurationStore) Average(ctx context.Context, tier model.Tier) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	avg, ok := m.avgs[tier]
	return avg, ok, nil
}

func (m *memDurationStore) SetAverage(ctx context.Context, tier model.Tier, avg float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.avgs[tier] = avg
	return nil
}

// memArchive collects terminal records.
type memArchive struct {
	mu      sync.Mutex
	records map[string]*model.BuildRecord
}

func newMemArchive() *memArchive {
	return &memArchive{records: make(map[string]*model.BuildRecord)}
}

func (m *memArchive) SaveTerminal(ctx context.Context, rec *model.BuildRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *memArchive) get(id string) *model.BuildRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id]
}

// fakeExecutor lets tests script the pipeline outcome.
type fakeExecutor struct {
	mu      sync.Mutex
	calls   []adapter.ExecuteParams
	failErr error
}

func (f *fakeExecutor) Execute(ctx context.Context, p adapter.ExecuteParams) error {
	f.mu.Lock()
	f.calls = append(f.calls, p)
	f.mu.Unlock()
	return f.failErr
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
