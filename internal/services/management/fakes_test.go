package management

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"login-management-go/internal/core/models"
	"login-management-go/internal/db/repository"
	"login-management-go/internal/integrations/partner"

	"gorm.io/datatypes"
)

type storeWrite struct {
	id          uint
	status      models.ManagementStatus
	log         string
	data        string
	externalKey string
}

type fakeStore struct {
	mu         sync.Mutex
	items      map[uint]*models.QueueItem
	order      []uint
	writes     []storeWrite
	groups     []models.Group
	failWrites int
	findCalls  int
	onFind     func()
}

func newFakeStore(items ...models.QueueItem) *fakeStore {
	s := &fakeStore{items: map[uint]*models.QueueItem{}}
	for i := range items {
		item := items[i]
		s.items[item.ID] = &item
		s.order = append(s.order, item.ID)
	}
	return s
}

func (s *fakeStore) FindPending(context.Context) ([]models.QueueItem, error) {
	s.mu.Lock()
	s.findCalls++
	hook := s.onFind
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.QueueItem
	for _, id := range s.order {
		item := s.items[id]
		if item.Deleted {
			continue
		}
		if item.ManagementStatus == models.StatusQueued || item.ManagementStatus == models.StatusError {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (s *fakeStore) CountPending(ctx context.Context) (int64, error) {
	items, err := s.FindPending(ctx)
	return int64(len(items)), err
}

func (s *fakeStore) FindByID(_ context.Context, id uint) (*models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *fakeStore) record(id uint, status models.ManagementStatus, log string, data datatypes.JSON, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites > 0 {
		s.failWrites--
		return fmt.Errorf("%w: disk full", repository.ErrPersistence)
	}
	s.writes = append(s.writes, storeWrite{id: id, status: status, log: log, data: string(data), externalKey: key})
	item := s.items[id]
	item.ManagementStatus = status
	item.LastChangeLog = log
	if data != nil {
		item.SupplementalData = data
	}
	if key != "" {
		item.ExternalKey = key
	}
	return nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, id uint, status models.ManagementStatus, log string) error {
	return s.record(id, status, log, nil, "")
}

func (s *fakeStore) UpdateStatusWithData(_ context.Context, id uint, status models.ManagementStatus, log string, data datatypes.JSON) error {
	return s.record(id, status, log, data, "")
}

func (s *fakeStore) UpdateStatusWithDataAndKey(_ context.Context, id uint, status models.ManagementStatus, log string, data datatypes.JSON, key string) error {
	return s.record(id, status, log, data, key)
}

func (s *fakeStore) SaveGroup(_ context.Context, group *models.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = append(s.groups, *group)
	return nil
}

func (s *fakeStore) FindGroupByUUID(_ context.Context, uuid string) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.UUID == uuid {
			cp := g
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) Ping(context.Context) error { return nil }

func (s *fakeStore) item(id uint) models.QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.items[id]
}

func (s *fakeStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

// fakePartner answers every call with success unless a result is scripted for the operation
type fakePartner struct {
	mu      sync.Mutex
	calls   []string
	script  map[string][]partner.Result
	panicOn string
	after   func(op string)
}

func newFakePartner() *fakePartner {
	return &fakePartner{script: map[string][]partner.Result{}}
}

func (p *fakePartner) on(op string, results ...partner.Result) *fakePartner {
	p.script[op] = append(p.script[op], results...)
	return p
}

func (p *fakePartner) call(op string, def partner.Result, args ...string) partner.Result {
	p.mu.Lock()
	p.calls = append(p.calls, op+"("+strings.Join(args, ",")+")")
	res := def
	if queue := p.script[op]; len(queue) > 0 {
		res = queue[0]
		p.script[op] = queue[1:]
	}
	shouldPanic := p.panicOn == op
	after := p.after
	p.mu.Unlock()

	if shouldPanic {
		panic("boom in " + op)
	}
	if after != nil {
		after(op)
	}
	return res
}

func (p *fakePartner) CreateUser(_ context.Context, userCode string) partner.Result {
	return p.call("create_user", partner.Result{Success: true, Data: "u1"}, userCode)
}

func (p *fakePartner) BlockUser(_ context.Context, key string) partner.Result {
	return p.call("block", partner.Result{Success: true, Data: "{}"}, key)
}

func (p *fakePartner) UnblockUser(_ context.Context, key string) partner.Result {
	return p.call("unblock", partner.Result{Success: true}, key)
}

func (p *fakePartner) CreateGroup(_ context.Context, name, originKey string) partner.Result {
	return p.call("create_group", partner.Result{Success: true, Data: "g-new"}, name, originKey)
}

func (p *fakePartner) AddUserToGroup(_ context.Context, groupUUID, userUUID string) partner.Result {
	return p.call("add_user_to_group", partner.Result{Success: true, Data: "{}"}, groupUUID, userUUID)
}

func (p *fakePartner) recorded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type fakePublisher struct {
	mu       sync.Mutex
	outcomes []models.Outcome
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, o models.Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, o)
	return f.err
}
