package extract

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cardflow-io/cardflow/pkg/config"
	"github.com/cardflow-io/cardflow/pkg/errors"
	"github.com/cardflow-io/cardflow/pkg/logger"
	"github.com/cardflow-io/cardflow/pkg/metrics"
	"github.com/cardflow-io/cardflow/pkg/observability"
	"github.com/cardflow-io/cardflow/pkg/trello"
)

// Pipeline drives one extraction kind from fetch to terminal event. It
// is a pure request-to-event function: no global registration, no
// callbacks; the caller persists the returned state and delivers the
// event.
type Pipeline struct {
	cfg        *config.BaseConfig
	sink       Sink
	logger     *zap.Logger
	clientOpts []trello.ClientOption
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithClientOptions forwards options to the API client built for each
// run, used by tests to point at a fixture server.
func WithClientOptions(opts ...trello.ClientOption) PipelineOption {
	return func(p *Pipeline) {
		p.clientOpts = opts
	}
}

// NewPipeline creates a pipeline writing to sink.
func NewPipeline(cfg *config.BaseConfig, sink Sink, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		cfg:    cfg,
		sink:   sink,
		logger: logger.Get().With(zap.String("component", "pipeline")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one invocation and returns exactly one event. Done and
// Error are terminal for the logical run; Progress and Delay hand
// control back to the caller with a resumable state snapshot.
func (p *Pipeline) Run(ctx context.Context, req Request) Event {
	state := req.State.Clone()
	if state == nil {
		state = NewCheckpointState()
	}

	creds, err := trello.ParseCredentials(req.ConnectionKey)
	if err != nil {
		return errorEvent(req.Kind, state, err.Error())
	}

	clientOpts := append([]trello.ClientOption{trello.WithBaseURL(p.cfg.API.BaseURL)}, p.clientOpts...)
	client := trello.NewClient(creds, clientOpts...)

	budget := req.Budget
	if budget <= 0 {
		budget = p.cfg.Timeouts.InvocationBudget
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	ctx = context.WithValue(ctx, logger.ExtractionKindKey, string(req.Kind))
	if req.ExternalSyncUnitID != "" {
		ctx = context.WithValue(ctx, logger.SyncUnitKey, req.ExternalSyncUnitID)
	}

	ctx, span := observability.StartExtraction(ctx, string(req.Kind))
	ev := p.dispatch(ctx, client, req, state)
	var spanErr error
	if ev.Class == ClassError {
		spanErr = errors.New(errors.ErrorTypeInternal, ev.Message)
	}
	observability.EndSpan(span, spanErr)
	metrics.EventsEmitted.WithLabelValues(string(ev.Kind), string(ev.Class)).Inc()

	total, failed := client.RequestStats()
	logger.WithContext(ctx).Info("run finished",
		zap.String("event", string(ev.Class)),
		zap.Int64("requests", total),
		zap.Int64("request_failures", failed))
	return ev
}

func (p *Pipeline) dispatch(ctx context.Context, client *trello.Client, req Request, state *CheckpointState) Event {
	switch req.Kind {
	case KindExternalSyncUnits:
		return p.runSyncUnits(ctx, client, req, state)
	case KindMetadata:
		return p.runMetadata(ctx, req, state)
	case KindData:
		return p.runData(ctx, client, req, state)
	case KindAttachments:
		return p.runAttachments(ctx, client, req, state)
	case KindDataDelete, KindAttachmentsDelete:
		// Nothing is persisted on this side; deletion acknowledges
		// immediately.
		return doneEvent(req.Kind, state)
	default:
		return errorEvent(req.Kind, state, "unknown extraction kind: "+string(req.Kind))
	}
}

// errHalted stops a page loop when an outgoing event is already
// prepared; it never reaches a caller.
var errHalted = errors.New(errors.ErrorTypeInternal, "page loop halted")

// budgetExpired distinguishes the invocation budget from per-request
// timeouts: only the run context's own deadline turns a failure into a
// resumable Progress event.
func budgetExpired(ctx context.Context) bool {
	return ctx.Err() == context.DeadlineExceeded
}

// failure maps an operation error to the outgoing event.
func (p *Pipeline) failure(ctx context.Context, kind Kind, state *CheckpointState, err error, percent int) Event {
	if budgetExpired(ctx) {
		return progressEvent(kind, state, percent)
	}
	return errorEvent(kind, state, err.Error())
}

// --- external sync units -------------------------------------------------

func (p *Pipeline) runSyncUnits(ctx context.Context, client *trello.Client, req Request, state *CheckpointState) Event {
	boards, rl, err := client.GetOrganizationBoards(ctx, req.OrgID)
	if rl != nil && rl.Throttled {
		return delayEvent(req.Kind, state, rl.DelaySeconds)
	}
	if err != nil {
		return p.failure(ctx, req.Kind, state, err, 0)
	}

	units := make([]SyncUnit, 0, len(boards))
	for _, board := range boards {
		boardID := board.ID
		count, rl, err := trello.CountRecords(ctx,
			func(ctx context.Context, limit int, before string) ([]trello.Card, *trello.RateLimitSignal, error) {
				return client.GetBoardCards(ctx, boardID, limit, before)
			},
			p.cfg.API.PageSize,
			func(c trello.Card) string { return c.ID })
		if rl != nil && rl.Throttled {
			return delayEvent(req.Kind, state, rl.DelaySeconds)
		}
		if err != nil {
			if budgetExpired(ctx) {
				return progressEvent(req.Kind, state, len(units)*100/max(len(boards), 1))
			}
			// A board we cannot count is still selectable.
			p.logger.Warn("card count failed",
				zap.String("board_id", boardID),
				zap.Error(err))
			count = -1
		}
		units = append(units, SyncUnit{
			ID:          board.ID,
			Name:        board.Name,
			Description: board.Description,
			ItemType:    "tasks",
			ItemCount:   count,
		})
	}

	ev := doneEvent(req.Kind, state)
	ev.SyncUnits = units
	return ev
}

// --- metadata ------------------------------------------------------------

func (p *Pipeline) runMetadata(ctx context.Context, req Request, state *CheckpointState) Event {
	item := &NormalizedItem{
		ID:           "external_domain_metadata",
		CreatedDate:  time.Now().UTC(),
		ModifiedDate: time.Now().UTC(),
		Data:         domainMetadata(),
	}
	if err := p.sink.UploadBatch(ctx, "external_domain_metadata", []*NormalizedItem{item}); err != nil {
		return p.failure(ctx, req.Kind, state, err, 0)
	}
	return doneEvent(req.Kind, state)
}

// --- data ----------------------------------------------------------------

func (p *Pipeline) runData(ctx context.Context, client *trello.Client, req Request, state *CheckpointState) Event {
	if req.Mode == ModeIncremental && !req.LastSuccessfulSyncStarted.IsZero() {
		cards := state.Entity(EntityCards)
		if cards.ModifiedSince == nil || !cards.ModifiedSince.Equal(req.LastSuccessfulSyncStarted) {
			state.ResetForIncremental(req.LastSuccessfulSyncStarted)
		}
	}

	if state.AllDataCompleted() {
		return doneEvent(req.Kind, state)
	}

	collector := metrics.NewCollector(string(req.Kind))
	repo := NewRepository(p.sink, p.cfg.Performance.BatchSize, collector)

	if !state.Entity(EntityUsers).Completed {
		if ev := p.extractUsers(ctx, client, req, state, repo); ev != nil {
			return *ev
		}
	}
	if !state.Entity(EntityLabels).Completed {
		if ev := p.extractLabels(ctx, client, req, state, repo); ev != nil {
			return *ev
		}
	}
	if !state.Entity(EntityCards).Completed {
		if ev := p.extractCards(ctx, client, req, state, repo); ev != nil {
			return *ev
		}
	}

	if err := repo.Upload(ctx); err != nil {
		return p.failure(ctx, req.Kind, state, err, dataProgress(state))
	}

	p.logger.Info("data extraction complete",
		zap.Int("cards_pushed", repo.PushedCount(EntityCards)),
		zap.Int("comments_pushed", repo.PushedCount(EntityComments)),
		zap.Any("counters", collector.GetAll()))
	return doneEvent(req.Kind, state)
}

func dataProgress(state *CheckpointState) int {
	done := 0
	for _, e := range dataEntities {
		if state.Entity(e).Completed {
			done++
		}
	}
	return done * 100 / len(dataEntities)
}

func (p *Pipeline) extractUsers(ctx context.Context, client *trello.Client, req Request, state *CheckpointState, repo *Repository) *Event {
	ctx, span := observability.StartPhase(ctx, string(EntityUsers))
	defer observability.EndSpan(span, nil)

	members, rl, err := client.GetOrganizationMembers(ctx, req.OrgID)
	if rl != nil && rl.Throttled {
		ev := delayEvent(req.Kind, state, rl.DelaySeconds)
		return &ev
	}
	if err != nil {
		ev := p.failure(ctx, req.Kind, state, err, dataProgress(state))
		return &ev
	}

	repo.Collector().Extracted(string(EntityUsers), len(members))

	es := state.Entity(EntityUsers)
	for _, member := range members {
		// The listing omits email; enrich from the member endpoint
		// but tolerate per-member failures.
		detail, rl, derr := client.GetMemberDetails(ctx, member.ID)
		if rl != nil && rl.Throttled {
			ev := delayEvent(req.Kind, state, rl.DelaySeconds)
			return &ev
		}
		if derr == nil && detail != nil {
			member.Email = detail.Email
			member.Bio = detail.Bio
			member.URL = detail.URL
		} else if derr != nil {
			if budgetExpired(ctx) {
				ev := progressEvent(req.Kind, state, dataProgress(state))
				return &ev
			}
			p.logger.Warn("member detail fetch failed",
				zap.String("member_id", member.ID),
				zap.Error(derr))
		}

		item, nerr := NormalizeMember(member)
		if nerr != nil {
			repo.Skip(EntityUsers, nerr)
			es.Skipped++
			continue
		}
		if err := repo.Push(ctx, EntityUsers, item); err != nil {
			ev := p.failure(ctx, req.Kind, state, err, dataProgress(state))
			return &ev
		}
	}

	if err := repo.UploadEntity(ctx, EntityUsers); err != nil {
		ev := p.failure(ctx, req.Kind, state, err, dataProgress(state))
		return &ev
	}
	es.Completed = true
	return nil
}

func (p *Pipeline) extractLabels(ctx context.Context, client *trello.Client, req Request, state *CheckpointState, repo *Repository) *Event {
	ctx, span := observability.StartPhase(ctx, string(EntityLabels))
	defer observability.EndSpan(span, nil)

	labels, rl, err := client.GetBoardLabels(ctx, req.ExternalSyncUnitID)
	if rl != nil && rl.Throttled {
		ev := delayEvent(req.Kind, state, rl.DelaySeconds)
		return &ev
	}
	if err != nil {
		ev := p.failure(ctx, req.Kind, state, err, dataProgress(state))
		return &ev
	}

	repo.Collector().Extracted(string(EntityLabels), len(labels))

	es := state.Entity(EntityLabels)
	for _, label := range labels {
		item, nerr := NormalizeLabel(label)
		if nerr != nil {
			repo.Skip(EntityLabels, nerr)
			es.Skipped++
			continue
		}
		if err := repo.Push(ctx, EntityLabels, item); err != nil {
			ev := p.failure(ctx, req.Kind, state, err, dataProgress(state))
			return &ev
		}
	}

	if err := repo.UploadEntity(ctx, EntityLabels); err != nil {
		ev := p.failure(ctx, req.Kind, state, err, dataProgress(state))
		return &ev
	}
	es.Completed = true
	return nil
}

func (p *Pipeline) extractCards(ctx context.Context, client *trello.Client, req Request, state *CheckpointState, repo *Repository) *Event {
	ctx, span := observability.StartPhase(ctx, string(EntityCards))
	defer observability.EndSpan(span, nil)

	lists, rl, err := client.GetBoardLists(ctx, req.ExternalSyncUnitID)
	if rl != nil && rl.Throttled {
		ev := delayEvent(req.Kind, state, rl.DelaySeconds)
		return &ev
	}
	if err != nil {
		ev := p.failure(ctx, req.Kind, state, err, dataProgress(state))
		return &ev
	}
	stageByList := make(map[string]string, len(lists))
	for _, l := range lists {
		stageByList[l.ID] = l.Name
	}

	cs := state.Entity(EntityCards)

	// A page refetched after a mid-page suspension must not duplicate
	// attachment metadata already checkpointed.
	seenAttachments := make(map[string]struct{}, len(state.Attachments))
	for _, a := range state.Attachments {
		seenAttachments[a.ID] = struct{}{}
	}

	var halt *Event
	handle := func(page []trello.Card) error {
		repo.Collector().Extracted(string(EntityCards), len(page))

		for _, card := range page {
			modified := cardModified(card)
			if !InScope(modified, cs.ModifiedSince) {
				continue
			}

			item, nerr := NormalizeCard(card, stageByList)
			if nerr != nil {
				repo.Skip(EntityCards, nerr)
				cs.Skipped++
				continue
			}
			if err := repo.Push(ctx, EntityCards, item); err != nil {
				ev := p.failure(ctx, req.Kind, state, err, dataProgress(state))
				halt = &ev
				return errHalted
			}

			for _, att := range card.Attachments {
				meta, aerr := NormalizeAttachment(att, card.ID, client.BaseURL())
				if aerr != nil {
					repo.Skip(EntityAttachments, aerr)
					state.Entity(EntityAttachments).Skipped++
					continue
				}
				if _, dup := seenAttachments[meta.ID]; dup {
					continue
				}
				seenAttachments[meta.ID] = struct{}{}
				state.Attachments = append(state.Attachments, meta)
			}

			if ev := p.collectComments(ctx, client, req, state, repo, card); ev != nil {
				halt = ev
				return errHalted
			}
		}

		// Commit the cursor only once the page's records are safely in
		// the sink.
		if err := repo.UploadEntity(ctx, EntityCards); err != nil {
			ev := p.failure(ctx, req.Kind, state, err, dataProgress(state))
			halt = &ev
			return errHalted
		}
		if err := repo.UploadEntity(ctx, EntityComments); err != nil {
			ev := p.failure(ctx, req.Kind, state, err, dataProgress(state))
			halt = &ev
			return errHalted
		}
		cs.Cursor = page[0].ID
		return nil
	}

	res, err := trello.Paginate(ctx,
		func(ctx context.Context, limit int, before string) ([]trello.Card, *trello.RateLimitSignal, error) {
			return client.GetBoardCards(ctx, req.ExternalSyncUnitID, limit, before)
		},
		trello.PageOptions{PageSize: p.cfg.API.PageSize, Before: cs.Cursor},
		func(c trello.Card) string { return c.ID },
		handle)
	if err != nil {
		if halt != nil {
			return halt
		}
		ev := p.failure(ctx, req.Kind, state, err, dataProgress(state))
		return &ev
	}
	if res.Throttled != nil {
		ev := delayEvent(req.Kind, state, res.Throttled.DelaySeconds)
		return &ev
	}

	cs.Completed = true
	state.Entity(EntityComments).Completed = true
	return nil
}

func (p *Pipeline) collectComments(ctx context.Context, client *trello.Client, req Request, state *CheckpointState, repo *Repository, card trello.Card) *Event {
	if card.Badges == nil || card.Badges.Comments == 0 {
		return nil
	}
	comments, rl, err := client.GetCardComments(ctx, card.ID)
	if rl != nil && rl.Throttled {
		ev := delayEvent(req.Kind, state, rl.DelaySeconds)
		return &ev
	}
	if err != nil {
		if budgetExpired(ctx) {
			ev := progressEvent(req.Kind, state, dataProgress(state))
			return &ev
		}
		// Comments are supplementary; a failed card does not halt the
		// phase.
		p.logger.Warn("comment fetch failed",
			zap.String("card_id", card.ID),
			zap.Error(err))
		state.Entity(EntityComments).Error = err.Error()
		return nil
	}

	es := state.Entity(EntityComments)
	for _, action := range comments {
		item, nerr := NormalizeComment(action)
		if nerr != nil {
			repo.Skip(EntityComments, nerr)
			es.Skipped++
			continue
		}
		if err := repo.Push(ctx, EntityComments, item); err != nil {
			ev := p.failure(ctx, req.Kind, state, err, dataProgress(state))
			return &ev
		}
	}
	return nil
}

func cardModified(card trello.Card) time.Time {
	created, err := CreatedDateFromID(card.ID)
	if err != nil {
		created = time.Time{}
	}
	return modifiedOrCreated(card.DateLastActivity, created)
}

// --- attachments ---------------------------------------------------------

func (p *Pipeline) runAttachments(ctx context.Context, client *trello.Client, req Request, state *CheckpointState) Event {
	as := state.Entity(EntityAttachments)
	if as.Completed {
		return doneEvent(req.Kind, state)
	}

	list := state.Attachments
	if len(list) == 0 {
		as.Completed = true
		return doneEvent(req.Kind, state)
	}

	streamer := NewStreamer(client, p.sink)
	start := as.Index
	failed := 0

	for i := start; i < len(list); i++ {
		if budgetExpired(ctx) {
			return progressEvent(req.Kind, state, i*100/len(list))
		}

		res := streamer.Stream(ctx, list[i])
		if res.Throttled != nil {
			return delayEvent(req.Kind, state, res.Throttled.DelaySeconds)
		}
		if res.Err != nil {
			if budgetExpired(ctx) {
				return progressEvent(req.Kind, state, i*100/len(list))
			}
			failed++
			as.Skipped++
			as.Error = res.Err.Error()
		}
		as.Index = i + 1
	}

	if failed > 0 && failed == len(list)-start {
		return errorEvent(req.Kind, state, "all attachments failed to stream")
	}
	as.Error = ""
	as.Completed = true
	return doneEvent(req.Kind, state)
}
