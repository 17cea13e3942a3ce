package management

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"login-management-go/internal/audit"
	"login-management-go/internal/core/models"
	"login-management-go/internal/integrations/partner"
	"login-management-go/internal/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func newTestService(store *fakeStore, client PartnerClient) *Service {
	return NewService(store, client, Options{Catalog: audit.MustCatalog("pt-BR")})
}

func queued(id uint, typ models.ManagementType) models.QueueItem {
	return models.QueueItem{ID: id, ManagementType: typ, ManagementStatus: models.StatusQueued}
}

func withKey(item models.QueueItem, key string) models.QueueItem {
	item.ExternalKey = key
	return item
}

func withCode(item models.QueueItem, code, data string) models.QueueItem {
	item.UserCode = code
	if data != "" {
		item.SupplementalData = datatypes.JSON(data)
	}
	return item
}

func process(t *testing.T, s *Service, store *fakeStore, id uint) (models.QueueItem, bool) {
	t.Helper()
	item := store.item(id)
	ok, err := s.ProcessItem(context.Background(), &item)
	require.NoError(t, err)
	return store.item(id), ok
}

func TestUnknownTypeFailsWithoutCalls(t *testing.T) {
	store := newFakeStore(withKey(queued(1, models.ManagementType(99)), "keep-me"))
	p := newFakePartner()

	item, ok := process(t, newTestService(store, p), store, 1)

	assert.False(t, ok)
	assert.Equal(t, models.StatusError, item.ManagementStatus)
	assert.Equal(t, "Tipo desconhecido", item.LastChangeLog)
	assert.Equal(t, "keep-me", item.ExternalKey)
	assert.Empty(t, p.recorded())
}

func TestMissingFieldsShortCircuit(t *testing.T) {
	tests := []struct {
		name string
		item models.QueueItem
		log  string
	}{
		{"create without user code", withCode(queued(1, models.TypeCreate), "  ", `{"managementGroups_uuid":"g1"}`), "UserCode vazio"},
		{"block without key", queued(1, models.TypeBlock), "ExternalKey vazia"},
		{"unblock without key", queued(1, models.TypeUnblock), "ExternalKey vazia"},
		{"reset without key", withKey(queued(1, models.TypeReset), " "), "ExternalKey vazia"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(tt.item)
			p := newFakePartner()

			item, ok := process(t, newTestService(store, p), store, 1)

			assert.False(t, ok)
			assert.Equal(t, models.StatusError, item.ManagementStatus)
			assert.Equal(t, tt.log, item.LastChangeLog)
			assert.Empty(t, p.recorded())
		})
	}
}

func TestBlockSuccess(t *testing.T) {
	store := newFakeStore(withKey(queued(1, models.TypeBlock), "abc"))
	p := newFakePartner()

	item, ok := process(t, newTestService(store, p), store, 1)

	assert.True(t, ok)
	assert.Equal(t, models.StatusSuccess, item.ManagementStatus)
	assert.Equal(t, "Bloqueio OK", item.LastChangeLog)
	assert.Equal(t, []string{"block(abc)"}, p.recorded())
}

func TestBlockFailureIsClassified(t *testing.T) {
	store := newFakeStore(withKey(queued(1, models.TypeBlock), "abc"))
	p := newFakePartner().on("block", partner.Result{Message: "status 404: user not found"})

	item, ok := process(t, newTestService(store, p), store, 1)

	assert.False(t, ok)
	assert.Equal(t, models.StatusError, item.ManagementStatus)
	assert.Equal(t, "Não encontrado", item.LastChangeLog)
}

func TestUnblockPersistsNewPassword(t *testing.T) {
	unblock := withKey(queued(1, models.TypeUnblock), "abc")
	unblock.SupplementalData = datatypes.JSON(`{"telefonePIN":"1234"}`)
	store := newFakeStore(unblock)
	p := newFakePartner().on("unblock", partner.Result{Success: true, Data: "X1"})

	item, ok := process(t, newTestService(store, p), store, 1)

	assert.True(t, ok)
	assert.Equal(t, models.StatusSuccess, item.ManagementStatus)
	assert.Equal(t, "Desbloqueio OK", item.LastChangeLog)
	assert.JSONEq(t, `{"newPassword":"X1","telefonePIN":"1234"}`, string(item.SupplementalData))
}

func TestUnblockWithoutPasswordLeavesDataAlone(t *testing.T) {
	store := newFakeStore(withKey(queued(1, models.TypeUnblock), "abc"))
	p := newFakePartner()

	item, ok := process(t, newTestService(store, p), store, 1)

	assert.True(t, ok)
	assert.Empty(t, item.SupplementalData)
}

func TestCreateWithExistingGroup(t *testing.T) {
	store := newFakeStore(withCode(queued(1, models.TypeCreate), "111", `{"groupUuid":"g1","telefonePIN":"9"}`))
	p := newFakePartner().on("unblock", partner.Result{Success: true, Data: "first-pass"})

	item, ok := process(t, newTestService(store, p), store, 1)

	assert.True(t, ok)
	assert.Equal(t, models.StatusSuccess, item.ManagementStatus)
	assert.Equal(t, "u1", item.ExternalKey)
	assert.Equal(t, "Criado com grupo", item.LastChangeLog)
	assert.Equal(t, []string{
		"create_user(111)",
		"add_user_to_group(g1,u1)",
		"block(u1)",
		"unblock(u1)",
	}, p.recorded())

	data, err := models.ParseSupplementalData(item.SupplementalData)
	require.NoError(t, err)
	assert.Equal(t, "u1", data.String(models.KeyUserUUID))
	assert.Equal(t, "g1", data.String(models.KeyGroupUUID))
	assert.Equal(t, "9", data.String(models.KeyPhonePIN))
	assert.Equal(t, "first-pass", data.String(models.KeyNewPassword))
	assert.NotContains(t, data, models.KeyWarning)

	// single terminal write
	assert.Equal(t, 1, store.writeCount())
}

func TestCreateWithGroupNameCreatesGroupFirst(t *testing.T) {
	store := newFakeStore(withCode(queued(1, models.TypeCreate), "111", `{"managementGroups_nome":"Loja Centro"}`))
	p := newFakePartner()

	item, ok := process(t, newTestService(store, p), store, 1)

	assert.True(t, ok)
	assert.Equal(t, "Criado com novo grupo", item.LastChangeLog)
	assert.Equal(t, []string{
		"create_user(111)",
		"create_group(Loja Centro,111)",
		"add_user_to_group(g-new,u1)",
		"block(u1)",
		"unblock(u1)",
	}, p.recorded())

	require.Len(t, store.groups, 1)
	assert.Equal(t, models.Group{UUID: "g-new", Name: "Loja Centro", OriginatingKey: "111"}, store.groups[0])

	data, err := models.ParseSupplementalData(item.SupplementalData)
	require.NoError(t, err)
	assert.Equal(t, "g-new", data.String(models.KeyGroupUUID))
	assert.Equal(t, "Loja Centro", data.String(models.KeyGroupName))
}

func TestCreateWithoutGroupData(t *testing.T) {
	for _, raw := range []string{"", `{}`, `not json`} {
		store := newFakeStore(withCode(queued(1, models.TypeCreate), "111", raw))
		p := newFakePartner()

		item, ok := process(t, newTestService(store, p), store, 1)

		assert.True(t, ok, raw)
		assert.Equal(t, "Criado OK", item.LastChangeLog, raw)
		assert.Equal(t, []string{"create_user(111)", "block(u1)", "unblock(u1)"}, p.recorded(), raw)
	}
}

func TestCreateUserFailureWritesNoKey(t *testing.T) {
	store := newFakeStore(withCode(queued(1, models.TypeCreate), "111", `{"managementGroups_uuid":"g1"}`))
	p := newFakePartner().on("create_user", partner.Result{Message: `status 422: {"code":"ALREADY_EXISTS"}`})

	item, ok := process(t, newTestService(store, p), store, 1)

	assert.False(t, ok)
	assert.Equal(t, models.StatusError, item.ManagementStatus)
	assert.Equal(t, "Já existe", item.LastChangeLog)
	assert.Empty(t, item.ExternalKey)
	assert.Equal(t, []string{"create_user(111)"}, p.recorded())
}

func TestCreateGroupStepFailuresDegradeToWarning(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		script  func(p *fakePartner)
		log     string
		warning string
	}{
		{
			name:    "link to existing group fails",
			data:    `{"managementGroups_uuid":"g1"}`,
			script:  func(p *fakePartner) { p.on("add_user_to_group", partner.Result{Message: "status 500: oops"}) },
			log:     "Criado sem grupo",
			warning: "Erro ao vincular",
		},
		{
			name:    "group creation fails",
			data:    `{"managementGroups_nome":"Loja"}`,
			script:  func(p *fakePartner) { p.on("create_group", partner.Result{Message: "status 500: oops"}) },
			log:     "Criado sem grupo",
			warning: "Erro ao criar grupo",
		},
		{
			name:    "link to new group fails",
			data:    `{"managementGroups_nome":"Loja"}`,
			script:  func(p *fakePartner) { p.on("add_user_to_group", partner.Result{Message: "status 500: oops"}) },
			log:     "Criado sem vínculo",
			warning: "Grupo criado mas não vinculado",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(withCode(queued(1, models.TypeCreate), "111", tt.data))
			p := newFakePartner()
			tt.script(p)

			item, ok := process(t, newTestService(store, p), store, 1)

			assert.True(t, ok)
			assert.Equal(t, models.StatusSuccess, item.ManagementStatus)
			assert.Equal(t, "u1", item.ExternalKey)
			assert.Equal(t, tt.log, item.LastChangeLog)
			data, err := models.ParseSupplementalData(item.SupplementalData)
			require.NoError(t, err)
			assert.Equal(t, tt.warning, data.String(models.KeyWarning))
		})
	}
}

func TestCreateActivationFailuresKeepSuccess(t *testing.T) {
	store := newFakeStore(withCode(queued(1, models.TypeCreate), "111", ""))
	p := newFakePartner().
		on("block", partner.Result{Message: "status 500: down"}).
		on("unblock", partner.Result{Message: "status 500: down"})

	item, ok := process(t, newTestService(store, p), store, 1)

	assert.True(t, ok)
	assert.Equal(t, models.StatusSuccess, item.ManagementStatus)
	assert.Equal(t, "u1", item.ExternalKey)
	data, err := models.ParseSupplementalData(item.SupplementalData)
	require.NoError(t, err)
	assert.NotContains(t, data, models.KeyNewPassword)
}

func TestResetUnblockFailureIsError(t *testing.T) {
	store := newFakeStore(withKey(queued(1, models.TypeReset), "abc"))
	p := newFakePartner().on("unblock", partner.Result{Message: "status 500: down"})

	item, ok := process(t, newTestService(store, p), store, 1)

	assert.False(t, ok)
	assert.Equal(t, models.StatusError, item.ManagementStatus)
	assert.Equal(t, "Falha no desbloqueio: Erro servidor", item.LastChangeLog)
	assert.Equal(t, []string{"block(abc)", "unblock(abc)"}, p.recorded())
}

func TestResetBlockFailureSkipsUnblock(t *testing.T) {
	store := newFakeStore(withKey(queued(1, models.TypeReset), "abc"))
	p := newFakePartner().on("block", partner.Result{Message: "status 403: nope"})

	item, ok := process(t, newTestService(store, p), store, 1)

	assert.False(t, ok)
	assert.Equal(t, "Falha no bloqueio: Erro auth", item.LastChangeLog)
	assert.Equal(t, []string{"block(abc)"}, p.recorded())
}

func TestResetSuccessStoresPasswordOrPlaceholder(t *testing.T) {
	store := newFakeStore(withKey(queued(1, models.TypeReset), "abc"), withKey(queued(2, models.TypeReset), "def"))
	p := newFakePartner().on("unblock", partner.Result{Success: true, Data: "N3w"}, partner.Result{Success: true})
	s := newTestService(store, p)

	first, ok := process(t, s, store, 1)
	assert.True(t, ok)
	assert.Equal(t, "Reset OK", first.LastChangeLog)
	assert.JSONEq(t, `{"newPassword":"N3w"}`, string(first.SupplementalData))

	second, ok := process(t, s, store, 2)
	assert.True(t, ok)
	assert.JSONEq(t, `{"newPassword":"Senha não retornada"}`, string(second.SupplementalData))
}

func TestChangeLogIsTruncated(t *testing.T) {
	store := newFakeStore(withKey(queued(1, models.TypeBlock), "abc"))
	p := newFakePartner().on("block", partner.Result{Message: "request failed: " + strings.Repeat("timeout ", 20)})

	item, _ := process(t, newTestService(store, p), store, 1)

	assert.Len(t, []rune(item.LastChangeLog), models.ChangeLogMaxLength)
	assert.True(t, strings.HasSuffix(item.LastChangeLog, "..."))
}

func TestPersistenceRetriesOnceWithFixedLog(t *testing.T) {
	store := newFakeStore(withKey(queued(1, models.TypeBlock), "abc"))
	store.failWrites = 1

	item, ok := process(t, newTestService(store, newFakePartner()), store, 1)

	assert.True(t, ok)
	assert.Equal(t, models.StatusSuccess, item.ManagementStatus)
	assert.Equal(t, "Erro", item.LastChangeLog)
}

func TestPersistenceFailureNeverEscapes(t *testing.T) {
	store := newFakeStore(withKey(queued(1, models.TypeBlock), "abc"), withKey(queued(2, models.TypeBlock), "def"))
	store.failWrites = 2
	p := newFakePartner()

	summary, err := newTestService(store, p).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, models.StatusQueued, store.item(1).ManagementStatus)
	assert.Equal(t, models.StatusSuccess, store.item(2).ManagementStatus)
	assert.Equal(t, []string{"block(abc)", "block(def)"}, p.recorded())
}

func TestPanicInItemIsRecordedAndBatchContinues(t *testing.T) {
	store := newFakeStore(
		withCode(queued(1, models.TypeCreate), "111", ""),
		withKey(queued(2, models.TypeBlock), "abc"),
	)
	p := newFakePartner()
	p.panicOn = "create_user"

	summary, err := newTestService(store, p).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, models.StatusError, store.item(1).ManagementStatus)
	assert.Equal(t, "Erro inesperado", store.item(1).LastChangeLog)
	assert.Equal(t, models.StatusSuccess, store.item(2).ManagementStatus)
}

func TestRunDrainsPendingInOrder(t *testing.T) {
	done := models.QueueItem{ID: 2, ManagementType: models.TypeBlock, ManagementStatus: models.StatusSuccess, ExternalKey: "done"}
	deleted := withKey(queued(4, models.TypeBlock), "gone")
	deleted.Deleted = true
	retry := withKey(queued(3, models.TypeUnblock), "k3")
	retry.ManagementStatus = models.StatusError

	store := newFakeStore(withKey(queued(1, models.TypeBlock), "k1"), done, retry, deleted, queued(5, models.TypeBlock))
	p := newFakePartner()
	pub := &fakePublisher{err: errors.New("broker down")}
	s := NewService(store, p, Options{Catalog: audit.MustCatalog("pt-BR"), Publisher: pub, PacingDelay: time.Millisecond})

	summary, err := s.Run(context.Background())

	require.NoError(t, err)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.False(t, summary.Interrupted)
	assert.Equal(t, []string{"block(k1)", "unblock(k3)"}, p.recorded())

	require.Len(t, pub.outcomes, 3)
	assert.Equal(t, uint(1), pub.outcomes[0].ItemID)
	assert.Equal(t, "SUCCESS", pub.outcomes[0].Status)
	assert.Equal(t, "ERROR", pub.outcomes[2].Status)
	assert.Equal(t, "BLOCK", pub.outcomes[2].Type)
}

func TestRunEmptyQueue(t *testing.T) {
	summary, err := newTestService(newFakeStore(), newFakePartner()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Total)
	assert.Equal(t, 0, summary.Succeeded+summary.Failed)
}

func TestCancelledPacingStopsBatch(t *testing.T) {
	store := newFakeStore(
		withKey(queued(1, models.TypeBlock), "k1"),
		withKey(queued(2, models.TypeBlock), "k2"),
		withKey(queued(3, models.TypeBlock), "k3"),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := newFakePartner()
	p.after = func(string) { cancel() }
	s := NewService(store, p, Options{BaseContext: ctx, Catalog: audit.MustCatalog("pt-BR"), PacingDelay: time.Hour})

	summary, err := s.Run(context.Background())

	require.NoError(t, err)
	assert.True(t, summary.Interrupted)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, models.StatusSuccess, store.item(1).ManagementStatus)
	assert.Equal(t, models.StatusQueued, store.item(2).ManagementStatus)
	assert.Equal(t, models.StatusQueued, store.item(3).ManagementStatus)
}

func TestCancelledResetLeavesItemPending(t *testing.T) {
	store := newFakeStore(withKey(queued(1, models.TypeReset), "k1"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := newFakePartner()
	p.after = func(op string) {
		if op == "block" {
			cancel()
		}
	}
	s := NewService(store, p, Options{Catalog: audit.MustCatalog("pt-BR"), PacingDelay: time.Hour})

	item := store.item(1)
	ok, err := s.ProcessItem(ctx, &item)

	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.StatusQueued, store.item(1).ManagementStatus)
	assert.Equal(t, 0, store.writeCount())
	assert.Equal(t, []string{"block(k1)"}, p.recorded())
}

func TestCancelledActivationStillPersistsCreate(t *testing.T) {
	store := newFakeStore(withCode(queued(1, models.TypeCreate), "111", ""), withKey(queued(2, models.TypeBlock), "k2"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := newFakePartner()
	p.after = func(op string) {
		if op == "block" {
			cancel()
		}
	}
	s := NewService(store, p, Options{BaseContext: ctx, Catalog: audit.MustCatalog("en"), PacingDelay: time.Hour})

	summary, err := s.Run(context.Background())

	require.NoError(t, err)
	assert.True(t, summary.Interrupted)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Skipped)

	item := store.item(1)
	assert.Equal(t, models.StatusSuccess, item.ManagementStatus)
	assert.Equal(t, "u1", item.ExternalKey)
	data, err := models.ParseSupplementalData(item.SupplementalData)
	require.NoError(t, err)
	assert.Equal(t, "activation interrupted", data.String(models.KeyWarning))
	assert.Equal(t, models.StatusQueued, store.item(2).ManagementStatus)
}

func TestConcurrentRunsShareOneDrain(t *testing.T) {
	store := newFakeStore(withKey(queued(1, models.TypeBlock), "k1"))
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	store.onFind = func() {
		once.Do(func() { close(entered) })
		<-release
	}
	s := newTestService(store, newFakePartner())

	var wg sync.WaitGroup
	results := make([]Summary, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = s.Run(context.Background())
	}()
	<-entered
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = s.Run(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, store.findCalls)
	assert.Equal(t, results[0].RunID, results[1].RunID)
	assert.Equal(t, 1, results[0].Succeeded)
}

func TestCallerLeavingDoesNotStopSharedDrain(t *testing.T) {
	store := newFakeStore(
		withKey(queued(1, models.TypeBlock), "k1"),
		withKey(queued(2, models.TypeBlock), "k2"),
		withKey(queued(3, models.TypeBlock), "k3"),
	)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	store.onFind = func() {
		once.Do(func() { close(entered) })
		<-release
	}
	s := NewService(store, newFakePartner(), Options{Catalog: audit.MustCatalog("pt-BR"), PacingDelay: time.Millisecond})

	requestCtx, cancelRequest := context.WithCancel(context.Background())
	defer cancelRequest()

	firstErr := make(chan error, 1)
	go func() {
		_, err := s.Run(requestCtx)
		firstErr <- err
	}()
	<-entered

	joined := make(chan Summary, 1)
	go func() {
		summary, _ := s.Run(context.Background())
		joined <- summary
	}()
	time.Sleep(50 * time.Millisecond)

	cancelRequest()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller still waiting")
	}
	close(release)

	var summary Summary
	select {
	case summary = <-joined:
	case <-time.After(5 * time.Second):
		t.Fatal("joined drain did not finish")
	}
	assert.False(t, summary.Interrupted)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 1, store.findCalls)
	for id := uint(1); id <= 3; id++ {
		assert.Equal(t, models.StatusSuccess, store.item(id).ManagementStatus)
	}
}

func TestDrainMetricsAreCollected(t *testing.T) {
	reg := observability.NewRegistry()
	metrics := observability.NewMetrics(reg.MeterProvider())
	store := newFakeStore(
		withKey(queued(1, models.TypeBlock), "k1"),
		withKey(queued(2, models.TypeBlock), "k2"),
	)
	s := NewService(store, newFakePartner(), Options{Catalog: audit.MustCatalog("pt-BR"), Metrics: metrics})

	_, err := s.Run(context.Background())
	require.NoError(t, err)
	// the queue is now empty; an empty drain is counted as well
	_, err = s.Run(context.Background())
	require.NoError(t, err)

	points, err := reg.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2.0, observability.Total(points, "login_management.drain.count", map[string]string{"drain.interrupted": "false"}))
	assert.Equal(t, 2.0, observability.Total(points, "login_management.item.count", map[string]string{"item.type": "BLOCK", "item.status": "SUCCESS"}))
	assert.Equal(t, 0.0, observability.Total(points, "login_management.item.count", map[string]string{"item.status": "ERROR"}))
}

// A rejected token is dropped and the next step of the same item fetches a new one.
func TestUnauthorizedStepRefreshesTokenForNextStep(t *testing.T) {
	var tokenHits atomic.Int32
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := tokenHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			_, _ = w.Write([]byte(`{"access_token":"stale","expires_in":3600}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"fresh","expires_in":3600}`))
	}))
	defer auth.Close()

	var mu sync.Mutex
	var seen []string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.URL.Path+" "+r.Header.Get("Authorization"))
		mu.Unlock()
		switch {
		case r.URL.Path == "/partner-management/v1/users":
			_, _ = w.Write([]byte(`{"uuid":"u1"}`))
		case strings.HasPrefix(r.URL.Path, "/partner-management/v1/groups/"):
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`expired`))
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer api.Close()

	tokens := partner.NewTokenCache(partner.TokenConfig{AuthURL: auth.URL}, nil)
	client := partner.NewClient(partner.Config{BaseURL: api.URL, PartnerUUID: "p1"}, tokens, nil)
	store := newFakeStore(withCode(queued(1, models.TypeCreate), "111", `{"managementGroups_uuid":"g1"}`))

	item, ok := process(t, NewService(store, client, Options{}), store, 1)

	assert.True(t, ok)
	assert.Equal(t, "Criado sem grupo", item.LastChangeLog)
	assert.Equal(t, int32(2), tokenHits.Load())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 4)
	assert.Equal(t, "/partner-management/v1/users Bearer stale", seen[0])
	assert.Equal(t, "/partner-management/v1/groups/g1/users Bearer stale", seen[1])
	assert.Equal(t, "/partner-management/v1/users/u1/block Bearer fresh", seen[2])
	assert.Equal(t, "/partner-management/v1/users/u1/unblock Bearer fresh", seen[3])
}

func TestPublishersFanOut(t *testing.T) {
	ok := &fakePublisher{}
	failing := &fakePublisher{err: errors.New("broker down")}
	pubs := Publishers{failing, ok}

	err := pubs.Publish(context.Background(), models.Outcome{ItemID: 3})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Len(t, ok.outcomes, 1)
	assert.Len(t, failing.outcomes, 1)
}
