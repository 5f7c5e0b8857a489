package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type memTaskStore struct {
	mu      sync.Mutex
	tasks   map[string]PrintTask
	saveErr error
}

func newMemTaskStore() *memTaskStore {
	return &memTaskStore{tasks: make(map[string]PrintTask)}
}

func (s *memTaskStore) Insert(ctx context.Context, t *PrintTask) error {
	s.mu.Lock()
	_, exists := s.tasks[t.TaskID]
	s.mu.Unlock()
	if exists {
		return ErrDuplicateTask
	}
	return s.Save(ctx, t)
}

func (s *memTaskStore) Save(_ context.Context, t *PrintTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.tasks[t.TaskID] = *t
	return nil
}

func (s *memTaskStore) FindByID(_ context.Context, id string) (*PrintTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (s *memTaskStore) CountByOrder(_ context.Context, orderID int64, kind TaskKind) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if t.OrderID == orderID && t.Kind == kind {
			n++
		}
	}
	return n, nil
}

func (s *memTaskStore) FindByStatus(_ context.Context, status TaskStatus, scope Scope) ([]*PrintTask, error) {
	return s.filter(func(t PrintTask) bool {
		if t.Status != status {
			return false
		}
		if scope.StoreID > 0 {
			return t.StoreID == scope.StoreID
		}
		if scope.MerchantID > 0 {
			return t.MerchantID == scope.MerchantID
		}
		return true
	}), nil
}

func (s *memTaskStore) FindStale(_ context.Context, statuses []TaskStatus, before time.Time) ([]*PrintTask, error) {
	return s.filter(func(t PrintTask) bool {
		for _, st := range statuses {
			if t.Status == st && t.CreateTime.Before(before) {
				return true
			}
		}
		return false
	}), nil
}

func (s *memTaskStore) FindCompletedBefore(_ context.Context, before time.Time) ([]*PrintTask, error) {
	return s.filter(func(t PrintTask) bool {
		return t.Status == TaskStatusCompleted && t.PrintTime != nil && t.PrintTime.Before(before)
	}), nil
}

func (s *memTaskStore) ListByMerchant(_ context.Context, merchantID int64, limit, offset int) ([]*PrintTask, int, error) {
	all := s.filter(func(t PrintTask) bool { return t.MerchantID == merchantID })
	sort.Slice(all, func(i, j int) bool { return all[i].CreateTime.After(all[j].CreateTime) })
	total := len(all)
	if offset >= total {
		return []*PrintTask{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *memTaskStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *memTaskStore) filter(keep func(PrintTask) bool) []*PrintTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*PrintTask{}
	for _, t := range s.tasks {
		if keep(t) {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

type memClientStore struct {
	mu      sync.Mutex
	clients map[string]PrintClient
}

func newMemClientStore() *memClientStore {
	return &memClientStore{clients: make(map[string]PrintClient)}
}

func (s *memClientStore) Save(_ context.Context, c *PrintClient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ClientID] = *c
	return nil
}

func (s *memClientStore) FindByID(_ context.Context, id string) (*PrintClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *memClientStore) FindOnline(_ context.Context, scope Scope) ([]*PrintClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*PrintClient{}
	for _, c := range s.clients {
		if !c.Online {
			continue
		}
		if scope.StoreID > 0 && c.StoreID != scope.StoreID {
			continue
		}
		if scope.StoreID == 0 && scope.MerchantID > 0 && c.MerchantID != scope.MerchantID {
			continue
		}
		c := c
		out = append(out, &c)
	}
	return out, nil
}

func (s *memClientStore) FindStaleOnline(_ context.Context, before time.Time) ([]*PrintClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*PrintClient{}
	for _, c := range s.clients {
		if c.Online && c.LastActiveTime.Before(before) {
			c := c
			out = append(out, &c)
		}
	}
	return out, nil
}

type memHistoryStore struct {
	mu      sync.Mutex
	records []PrintHistory
}

func (s *memHistoryStore) Append(_ context.Context, h *PrintHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h.ID = int64(len(s.records) + 1)
	s.records = append(s.records, *h)
	return nil
}

func (s *memHistoryStore) ListByTask(_ context.Context, taskID string) ([]*PrintHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*PrintHistory{}
	for _, h := range s.records {
		if h.TaskID == taskID {
			h := h
			out = append(out, &h)
		}
	}
	return out, nil
}

func (s *memHistoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type recordingNotifier struct {
	mu         sync.Mutex
	dispatched []string
	statuses   []TaskStatus
	system     []string
}

func (n *recordingNotifier) DispatchTask(_ context.Context, t *PrintTask) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dispatched = append(n.dispatched, t.TaskID)
}

func (n *recordingNotifier) NotifyStatus(_ context.Context, t *PrintTask) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, t.Status)
}

func (n *recordingNotifier) SystemNotification(_ context.Context, kind, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.system = append(n.system, kind)
}

type recordingArchiver struct {
	archived []string
	err      error
}

func (a *recordingArchiver) ArchiveTasks(_ context.Context, tasks []*PrintTask) error {
	if a.err != nil {
		return a.err
	}
	for _, t := range tasks {
		a.archived = append(a.archived, t.TaskID)
	}
	return nil
}

var errDiskFull = errors.New("disk full")
