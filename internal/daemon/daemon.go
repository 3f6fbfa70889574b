// Package daemon runs scribe: it turns incoming messages into plans,
// gates them on confidence and executes them against the store.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nous-labs/scribe/internal/assembler"
	"github.com/nous-labs/scribe/internal/capability"
	"github.com/nous-labs/scribe/internal/channel/matrix"
	"github.com/nous-labs/scribe/internal/dispatch"
	"github.com/nous-labs/scribe/internal/executor"
	"github.com/nous-labs/scribe/internal/gateway"
	"github.com/nous-labs/scribe/internal/llm"
	"github.com/nous-labs/scribe/internal/pipeline"
	"github.com/nous-labs/scribe/internal/userstate"
	"github.com/nous-labs/scribe/pkg/channel"
	"github.com/nous-labs/scribe/pkg/embeddings"
	"github.com/nous-labs/scribe/pkg/reminder"
	"github.com/nous-labs/scribe/pkg/store"
)

// ErrEmptyMessage is returned for messages with no text.
var ErrEmptyMessage = errors.New("empty message")

// Daemon is the main scribe process.
type Daemon struct {
	config *Config
	store  *store.Store
	state  *userstate.Store
	events *EventBus

	gateway    *gateway.Gateway
	assembler  *assembler.Assembler
	pipeline   *pipeline.Pipeline
	dispatcher *dispatch.Dispatcher
	executor   *executor.Executor
	search     *noteSearch

	matrix    *matrix.Channel // nil when no homeserver is configured
	reminders *reminder.Worker

	// Semantic note search (optional, requires pgvector + TEI)
	embedStore *embeddings.Store
	teiClient  *embeddings.TEIClient
	embedMu    sync.RWMutex

	startedAt time.Time
	healthy   atomic.Bool
}

// Turn is the result of processing one message.
type Turn struct {
	Reply    string            `json:"reply"`
	Outcome  pipeline.Outcome  `json:"outcome"`
	Decision dispatch.Decision `json:"decision"`
	Elapsed  time.Duration     `json:"elapsed"`
}

// New wires a daemon around gen. It opens the store under cfg.DataDir.
func New(gen llm.Generator, cfg *Config) (*Daemon, error) {
	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	d := &Daemon{
		config:    cfg,
		store:     db,
		state:     userstate.New(),
		events:    NewEventBus(),
		startedAt: time.Now(),
	}

	gwCfg := gateway.Config{PromptCeiling: cfg.Model.PromptCeiling}
	if rpm := cfg.Model.RequestsPerMinute; rpm > 0 {
		gwCfg.Limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60), 4)
	}
	d.gateway = gateway.New(gen, gwCfg)
	d.assembler = assembler.New(d.state, db, cfg.assemblerConfig())
	d.pipeline = pipeline.New(d.gateway, pipeline.Config{Temperature: cfg.Model.Temperature})
	d.dispatcher = dispatch.New(cfg.Thresholds)
	d.search = &noteSearch{keyword: db}

	chat := capability.PipelineChat{Answerer: d.pipeline, Context: d.assembler}
	svc := capability.NewService(db, d.search, d.state, chat)
	d.executor = executor.New(svc.Handlers(), svc.FreeChat, d.state, cfg.executorConfig())

	if cfg.Matrix.Homeserver != "" {
		d.matrix = matrix.New(matrix.Config{
			Homeserver:   cfg.Matrix.Homeserver,
			UserID:       cfg.Matrix.UserID,
			Password:     cfg.Matrix.Password,
			ServerName:   cfg.Matrix.ServerName,
			AllowedUsers: cfg.Matrix.AllowedUsers,
			DataDir:      cfg.DataDir,
		})
	}

	if !cfg.Reminder.Disabled && d.matrix != nil {
		rcfg := cfg.reminderConfig()
		rcfg.Deliverable = matrix.IsRoomID
		d.reminders = reminder.NewWorker(db, d.gateway, d.matrix, func(typ, msg string) {
			d.events.Publish(Event{Type: EventReminder, Message: typ + ": " + msg})
		}, rcfg)
	}

	if cfg.Embeddings.Enabled && cfg.Embeddings.PostgresURL != "" {
		d.tryInitSemanticSearch()
	}

	slog.Info("daemon configured",
		"provider", d.gateway.Provider(),
		"store", db.Path(),
		"matrix", d.matrix != nil,
		"reminders", d.reminders != nil,
		"semantic_search", d.search.semantic() != nil,
	)
	return d, nil
}

// Store exposes the underlying store.
func (d *Daemon) Store() *store.Store { return d.store }

// Events exposes the event bus.
func (d *Daemon) Events() *EventBus { return d.events }

// Close releases the store and the vector pool.
func (d *Daemon) Close() error {
	d.embedMu.Lock()
	if d.embedStore != nil {
		d.embedStore.Close()
		d.embedStore = nil
	}
	d.embedMu.Unlock()
	return d.store.Close()
}

// noteSearch uses hybrid search once semantic memory is up and keyword
// search until then.
type noteSearch struct {
	keyword capability.NoteSearcher
	hybrid  atomic.Pointer[embeddings.Searcher]
}

func (n *noteSearch) SearchNotes(ctx context.Context, userID, query string, limit int) ([]store.Note, error) {
	if h := n.hybrid.Load(); h != nil {
		return h.SearchNotes(ctx, userID, query, limit)
	}
	return n.keyword.SearchNotes(ctx, userID, query, limit)
}

func (n *noteSearch) semantic() *embeddings.Searcher { return n.hybrid.Load() }

// tryInitSemanticSearch connects to pgvector and switches note search to
// hybrid mode. It reports false when the database is not reachable yet.
func (d *Daemon) tryInitSemanticSearch() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	vs, err := embeddings.NewStore(ctx, d.config.Embeddings.PostgresURL)
	if err != nil {
		slog.Warn("semantic search unavailable, pgvector connection failed", "error", err)
		return false
	}
	if err := vs.Init(ctx); err != nil {
		slog.Warn("semantic search unavailable, schema init failed", "error", err)
		vs.Close()
		return false
	}

	tei := embeddings.NewTEIClient(d.config.Embeddings.TEIURL)
	d.embedMu.Lock()
	d.embedStore = vs
	d.teiClient = tei
	d.embedMu.Unlock()
	d.search.hybrid.Store(embeddings.NewSearcher(d.store, vs, tei))

	slog.Info("semantic search initialized", "tei", d.config.Embeddings.TEIURL)
	return true
}

// runSemanticSearch keeps note vectors in sync. When pgvector was not
// reachable at startup it retries every 30s for up to 10 minutes.
func (d *Daemon) runSemanticSearch(ctx context.Context) error {
	const maxRetries = 20
	for attempt := 1; d.search.semantic() == nil; attempt++ {
		if attempt > maxRetries {
			slog.Error("semantic search permanently unavailable after retries", "attempts", maxRetries)
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(30 * time.Second):
		}
		slog.Info("retrying semantic search connection", "attempt", attempt, "max", maxRetries)
		d.tryInitSemanticSearch()
	}

	d.embedMu.RLock()
	vs, tei := d.embedStore, d.teiClient
	d.embedMu.RUnlock()

	worker := embeddings.NewSyncWorker(d.store, vs, tei,
		duration(d.config.Embeddings.SyncInterval, 30*time.Second), d.config.Embeddings.BatchSize)
	worker.Run(ctx)
	return nil
}

// Run starts the background workers, the HTTP API and the Matrix channel.
// Blocks until ctx is cancelled or a component fails.
func (d *Daemon) Run(ctx context.Context) error {
	slog.Info("scribe daemon running",
		"name", d.config.Name,
		"http", d.config.HTTPAddr,
		"provider", d.gateway.Provider(),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.serveHTTP(ctx) })

	if d.config.Embeddings.Enabled && d.config.Embeddings.PostgresURL != "" {
		g.Go(func() error { return d.runSemanticSearch(ctx) })
	}

	if d.reminders != nil {
		g.Go(func() error {
			d.reminders.Run(ctx)
			return nil
		})
	} else {
		slog.Info("reminder worker disabled")
	}

	if d.matrix != nil {
		g.Go(func() error {
			slog.Info("starting matrix channel")
			if err := d.matrix.Start(ctx, d.onMessage); err != nil && ctx.Err() == nil {
				return fmt.Errorf("matrix channel fatal error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return d.matrix.Stop()
		})
	}

	d.healthy.Store(true)
	d.events.Publish(Event{Type: EventStatus, Message: "scribe ready"})

	err := g.Wait()
	d.healthy.Store(false)
	slog.Info("scribe daemon shutting down")
	return err
}

// onMessage adapts ProcessMessage to channel.MessageHandler.
func (d *Daemon) onMessage(ctx context.Context, msg channel.Message) (string, error) {
	turn, err := d.ProcessMessage(ctx, msg)
	if err != nil {
		return "", err
	}
	return turn.Reply, nil
}

// ProcessMessage runs one message through context assembly, the stage
// pipeline, the dispatcher and the executor. Turns of the same sender are
// serialized. A reply is always produced for non-empty input.
func (d *Daemon) ProcessMessage(ctx context.Context, msg channel.Message) (Turn, error) {
	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return Turn{}, ErrEmptyMessage
	}
	start := time.Now()
	userID := msg.SenderID

	end := d.state.BeginTurn(userID)
	defer end()

	slog.Info("processing message", "source", msg.Source, "user", userID, "len", len(text))
	d.events.Publish(Event{Type: EventChat, UserID: userID, Role: string(userstate.RoleUser), Content: text})

	profile := d.profile(ctx, msg)
	req := pipeline.Request{Profile: profile, Text: text, Context: d.assembler.Build(ctx, profile)}
	out := d.pipeline.Run(ctx, req)
	dec := d.dispatcher.Decide(out)
	res := d.executor.Execute(ctx, profile, dec.Plan)

	turn := Turn{Reply: res.Answer, Outcome: out, Decision: dec, Elapsed: time.Since(start)}
	d.record(ctx, userID, text, turn)

	slog.Info("reply ready",
		"user", userID,
		"decision", dec.Kind,
		"method", dec.Plan.Method,
		"elapsed", turn.Elapsed.Round(time.Millisecond),
		"len", len(turn.Reply),
	)
	return turn, nil
}

// DryRun runs the stages and the dispatcher without executing anything.
// An unknown user is planned for with an unsaved default profile.
func (d *Daemon) DryRun(ctx context.Context, userID, text string) (pipeline.Outcome, dispatch.Decision) {
	profile, err := d.store.GetUser(ctx, userID)
	if err != nil {
		profile = d.template(channel.Message{SenderID: userID, SenderName: userID})
	}
	req := pipeline.Request{Profile: profile, Text: text, Context: d.assembler.Build(ctx, profile)}
	out := d.pipeline.Run(ctx, req)
	return out, d.dispatcher.Decide(out)
}

// template is the profile a first message registers. Only Matrix rooms
// become the delivery chat; other transports leave it untouched.
func (d *Daemon) template(msg channel.Message) store.User {
	u := store.User{
		ID:              msg.SenderID,
		DisplayName:     msg.SenderName,
		Timezone:        d.config.DefaultTimezone,
		Role:            "user",
		NotifyReminders: true,
		Active:          true,
	}
	if matrix.IsRoomID(msg.RoomID) {
		u.ChatID = msg.RoomID
	}
	return u
}

// profile loads or registers the sender. When the store fails the turn
// continues with an unsaved profile.
func (d *Daemon) profile(ctx context.Context, msg channel.Message) store.User {
	template := d.template(msg)
	u, err := d.store.EnsureUser(ctx, template)
	if err != nil {
		slog.Warn("profile unavailable, continuing with defaults", "user", msg.SenderID, "error", err)
		return template
	}
	return u
}

// record appends the turn to the dialog history and the dialog log.
func (d *Daemon) record(ctx context.Context, userID, text string, turn Turn) {
	if err := d.state.AppendTurn(userID, userstate.RoleUser, text); err != nil {
		slog.Warn("history append failed", "user", userID, "error", err)
	}
	if err := d.state.AppendTurn(userID, userstate.RoleAssistant, turn.Reply); err != nil {
		slog.Warn("history append failed", "user", userID, "error", err)
	}

	planJSON, err := json.Marshal(turn.Decision.Plan)
	if err != nil {
		slog.Warn("plan not serializable", "user", userID, "error", err)
	}
	if err := d.store.LogDialog(ctx, store.DialogEntry{
		UserID:   userID,
		Text:     text,
		Response: turn.Reply,
		Decision: string(turn.Decision.Kind),
		Plan:     string(planJSON),
	}); err != nil {
		slog.Warn("dialog log failed", "user", userID, "error", err)
	}

	d.events.Publish(Event{
		Type:     EventDecision,
		UserID:   userID,
		Decision: string(turn.Decision.Kind),
		Method:   string(turn.Decision.Plan.Method),
		Message:  turn.Decision.Reason,
	})
	d.events.Publish(Event{Type: EventChat, UserID: userID, Role: string(userstate.RoleAssistant), Content: turn.Reply})
}
