package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardflow-io/cardflow/pkg/config"
)

const testConnectionKey = "key=k123&token=t456"

// fixture simulates the external API for pipeline tests.
type fixture struct {
	srv     *httptest.Server
	hits    map[string]int
	handler func(w http.ResponseWriter, r *http.Request) bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{hits: map[string]int{}}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits[r.URL.Path]++
		if f.handler != nil && f.handler(w, r) {
			return
		}
		f.defaultRoutes(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) defaultRoutes(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/organizations/org1/members":
		w.Write([]byte(`[
			{"id":"68aa0001aaaaaaaaaaaaaaaa","username":"alice","fullName":"Alice"},
			{"id":"68aa0002aaaaaaaaaaaaaaaa","username":"bob","fullName":"Bob"}
		]`))
	case strings.HasPrefix(r.URL.Path, "/members/"):
		id := strings.TrimPrefix(r.URL.Path, "/members/")
		w.Write([]byte(`{"id":"` + id + `","username":"x","email":"` + id[:8] + `@example.com"}`))
	case r.URL.Path == "/boards/b1/labels":
		w.Write([]byte(`[{"id":"68aa0010aaaaaaaaaaaaaaaa","idBoard":"b1","name":"bug","color":"red"}]`))
	case r.URL.Path == "/boards/b1/lists":
		w.Write([]byte(`[{"id":"list1","name":"To Do","idBoard":"b1"},{"id":"list2","name":"Done","idBoard":"b1"}]`))
	case r.URL.Path == "/boards/b1/cards":
		w.Write([]byte(`[
			{"id":"68aa0021aaaaaaaaaaaaaaaa","name":"Card one","desc":"line","idBoard":"b1","idList":"list1",
			 "dateLastActivity":"2024-06-10T10:00:00.000Z",
			 "badges":{"comments":1},
			 "attachments":[{"id":"68aa0031aaaaaaaaaaaaaaaa","fileName":"f.txt","url":"https://trello.com/1/cards/x/attachments/y/download/f.txt","idMember":"m1"}]},
			{"id":"68aa0022aaaaaaaaaaaaaaaa","name":"Card two","idBoard":"b1","idList":"list2",
			 "dateLastActivity":"2024-01-05T10:00:00.000Z"}
		]`))
	case strings.HasSuffix(r.URL.Path, "/actions"):
		w.Write([]byte(`[{"id":"68aa0041aaaaaaaaaaaaaaaa","type":"commentCard","date":"2024-06-10T11:00:00.000Z",
			"idMemberCreator":"68aa0001aaaaaaaaaaaaaaaa",
			"data":{"text":"looks good","card":{"id":"68aa0021aaaaaaaaaaaaaaaa"}}}]`))
	default:
		http.NotFound(w, r)
	}
}

func newTestPipeline(t *testing.T, f *fixture, sink Sink) *Pipeline {
	t.Helper()
	cfg := config.NewBaseConfig("test")
	cfg.API.BaseURL = f.srv.URL
	require.NoError(t, cfg.Validate())
	return NewPipeline(cfg, sink)
}

func dataRequest() Request {
	return Request{
		Kind:               KindData,
		Mode:               ModeInitial,
		ExternalSyncUnitID: "b1",
		OrgID:              "org1",
		ConnectionKey:      testConnectionKey,
	}
}

func TestPipelineDataHappyPath(t *testing.T) {
	f := newFixture(t)
	sink := newMemorySink()
	p := newTestPipeline(t, f, sink)

	ev := p.Run(context.Background(), dataRequest())

	require.Equal(t, ClassDone, ev.Class)
	assert.Equal(t, KindData, ev.Kind)
	require.NotNil(t, ev.State)
	assert.True(t, ev.State.Entity(EntityUsers).Completed)
	assert.True(t, ev.State.Entity(EntityLabels).Completed)
	assert.True(t, ev.State.Entity(EntityCards).Completed)

	users := sink.records("users")
	require.Len(t, users, 2)
	// Email comes from the per-member detail call.
	assert.Equal(t, "68aa0001@example.com", users[0].Data["email"])

	require.Len(t, sink.records("labels"), 1)

	cards := sink.records("cards")
	require.Len(t, cards, 2)
	assert.Equal(t, "To Do", cards[0].Data["stage"])

	require.Len(t, sink.records("comments"), 1)

	// Attachment metadata collected for the attachments phase, URL
	// rewritten to the authenticated endpoint.
	require.Len(t, ev.State.Attachments, 1)
	assert.True(t, strings.HasPrefix(ev.State.Attachments[0].URL, f.srv.URL+"/cards/"))
}

func TestPipelineDataResumeSkipsCompletedEntities(t *testing.T) {
	f := newFixture(t)
	sink := newMemorySink()
	p := newTestPipeline(t, f, sink)

	state := NewCheckpointState()
	state.Entity(EntityUsers).Completed = true
	state.Entity(EntityLabels).Completed = true

	req := dataRequest()
	req.State = state
	ev := p.Run(context.Background(), req)

	require.Equal(t, ClassDone, ev.Class)
	assert.Equal(t, 0, f.hits["/organizations/org1/members"])
	assert.Equal(t, 0, f.hits["/boards/b1/labels"])
	assert.NotZero(t, f.hits["/boards/b1/cards"])
	assert.Empty(t, sink.records("users"))
}

func TestPipelineDataResumeDoesNotDuplicateAttachmentMetadata(t *testing.T) {
	f := newFixture(t)
	throttled := false
	f.handler = func(w http.ResponseWriter, r *http.Request) bool {
		// Throttle the first comment fetch, after the card carrying the
		// attachment was already processed.
		if strings.HasSuffix(r.URL.Path, "/actions") && !throttled {
			throttled = true
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return true
		}
		return false
	}
	sink := newMemorySink()
	p := newTestPipeline(t, f, sink)

	first := p.Run(context.Background(), dataRequest())
	require.Equal(t, ClassDelay, first.Class)
	require.Len(t, first.State.Attachments, 1)

	// The resumed run refetches the suspended page; the attachment it
	// carries must not be collected twice.
	req := dataRequest()
	req.State = first.State
	ev := p.Run(context.Background(), req)

	require.Equal(t, ClassDone, ev.Class)
	require.Len(t, ev.State.Attachments, 1)
	assert.Equal(t, "68aa0031aaaaaaaaaaaaaaaa", ev.State.Attachments[0].ID)
}

func TestPipelineDataCompletedStateShortCircuits(t *testing.T) {
	f := newFixture(t)
	sink := newMemorySink()
	p := newTestPipeline(t, f, sink)

	state := NewCheckpointState()
	for _, e := range dataEntities {
		state.Entity(e).Completed = true
	}

	req := dataRequest()
	req.State = state
	ev := p.Run(context.Background(), req)

	require.Equal(t, ClassDone, ev.Class)
	assert.Empty(t, f.hits)
	assert.Empty(t, sink.records("cards"))
}

func TestPipelineDataAuthenticationError(t *testing.T) {
	f := newFixture(t)
	f.handler = func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/organizations/org1/members" {
			w.WriteHeader(http.StatusUnauthorized)
			return true
		}
		return false
	}
	sink := newMemorySink()
	p := newTestPipeline(t, f, sink)

	ev := p.Run(context.Background(), dataRequest())

	require.Equal(t, ClassError, ev.Class)
	assert.Contains(t, ev.Message, "Authentication failed")
	assert.False(t, ev.State.Entity(EntityUsers).Completed)
	assert.Empty(t, sink.records("users"))
}

func TestPipelineDataThrottleEmitsDelay(t *testing.T) {
	f := newFixture(t)
	f.handler = func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/organizations/org1/members" {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return true
		}
		return false
	}
	p := newTestPipeline(t, f, newMemorySink())

	ev := p.Run(context.Background(), dataRequest())

	require.Equal(t, ClassDelay, ev.Class)
	assert.Equal(t, 3, ev.DelaySeconds)
	assert.False(t, ev.Terminal())
	assert.False(t, ev.State.Entity(EntityUsers).Completed)
}

func TestPipelineInvalidConnectionKey(t *testing.T) {
	f := newFixture(t)
	p := newTestPipeline(t, f, newMemorySink())

	req := dataRequest()
	req.ConnectionKey = "garbage"
	ev := p.Run(context.Background(), req)

	require.Equal(t, ClassError, ev.Class)
	assert.Contains(t, ev.Message, "key and token")
}

func TestPipelineBudgetExpiryEmitsProgress(t *testing.T) {
	f := newFixture(t)
	p := newTestPipeline(t, f, newMemorySink())

	req := dataRequest()
	req.Budget = time.Nanosecond
	ev := p.Run(context.Background(), req)

	require.Equal(t, ClassProgress, ev.Class)
	assert.False(t, ev.Terminal())
	require.NotNil(t, ev.State)
}

func TestPipelineIncrementalResetsOnlyCardSideEntities(t *testing.T) {
	f := newFixture(t)
	sink := newMemorySink()
	p := newTestPipeline(t, f, sink)

	// Full sync first.
	first := p.Run(context.Background(), dataRequest())
	require.Equal(t, ClassDone, first.Class)
	memberHits := f.hits["/organizations/org1/members"]

	// Catch-up sync: only records modified after the boundary count.
	since := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	sink2 := newMemorySink()
	p2 := newTestPipeline(t, f, sink2)
	req := dataRequest()
	req.Mode = ModeIncremental
	req.LastSuccessfulSyncStarted = since
	req.State = first.State

	ev := p2.Run(context.Background(), req)
	require.Equal(t, ClassDone, ev.Class)

	// Users and labels kept their completion flags and were not
	// refetched.
	assert.Equal(t, memberHits, f.hits["/organizations/org1/members"])
	assert.True(t, ev.State.Entity(EntityUsers).Completed)
	assert.Empty(t, sink2.records("users"))

	// Cards restarted with the incremental bound: only the card
	// modified after the boundary came through.
	cards := sink2.records("cards")
	require.Len(t, cards, 1)
	assert.Equal(t, "Card one", cards[0].Data["title"])
	require.NotNil(t, ev.State.Entity(EntityCards).ModifiedSince)
	assert.True(t, ev.State.Entity(EntityCards).ModifiedSince.Equal(since))
}

func TestPipelineDeleteKindsCompleteImmediately(t *testing.T) {
	f := newFixture(t)
	p := newTestPipeline(t, f, newMemorySink())

	for _, kind := range []Kind{KindDataDelete, KindAttachmentsDelete} {
		ev := p.Run(context.Background(), Request{Kind: kind, ConnectionKey: testConnectionKey})
		assert.Equal(t, ClassDone, ev.Class, string(kind))
		assert.Equal(t, kind, ev.Kind)
	}
	assert.Empty(t, f.hits)
}

func TestPipelineMetadata(t *testing.T) {
	f := newFixture(t)
	sink := newMemorySink()
	p := newTestPipeline(t, f, sink)

	ev := p.Run(context.Background(), Request{Kind: KindMetadata, ConnectionKey: testConnectionKey})

	require.Equal(t, ClassDone, ev.Class)
	meta := sink.records("external_domain_metadata")
	require.Len(t, meta, 1)
	assert.Contains(t, meta[0].Data, "record_types")
}

func TestPipelineSyncUnits(t *testing.T) {
	f := newFixture(t)
	f.handler = func(w http.ResponseWriter, r *http.Request) bool {
		switch r.URL.Path {
		case "/organizations/org1/boards":
			w.Write([]byte(`[
				{"id":"b1","name":"Roadmap","desc":"product work"},
				{"id":"b2","name":"Broken","desc":""}
			]`))
			return true
		case "/boards/b2/cards":
			w.WriteHeader(http.StatusInternalServerError)
			return true
		}
		return false
	}
	p := newTestPipeline(t, f, newMemorySink())

	ev := p.Run(context.Background(), Request{
		Kind:          KindExternalSyncUnits,
		OrgID:         "org1",
		ConnectionKey: testConnectionKey,
	})

	require.Equal(t, ClassDone, ev.Class)
	require.Len(t, ev.SyncUnits, 2)
	assert.Equal(t, "Roadmap", ev.SyncUnits[0].Name)
	assert.Equal(t, "tasks", ev.SyncUnits[0].ItemType)
	assert.Equal(t, 2, ev.SyncUnits[0].ItemCount)
	// A board that cannot be counted is still offered for selection.
	assert.Equal(t, -1, ev.SyncUnits[1].ItemCount)
}

func TestPipelineUnknownKind(t *testing.T) {
	f := newFixture(t)
	p := newTestPipeline(t, f, newMemorySink())
	ev := p.Run(context.Background(), Request{Kind: Kind("bogus"), ConnectionKey: testConnectionKey})
	require.Equal(t, ClassError, ev.Class)
	assert.Contains(t, ev.Message, "unknown extraction kind")
}
