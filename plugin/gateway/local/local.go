// Package local is a development backend that implements gateway.Gateway on
// top of a SQL store.Driver and pushes events through an in-process Hub.
package local

import (
	"context"
	"database/sql"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/convsync/plugin/gateway"
	"github.com/hrygo/convsync/store"
)

// AIParticipantPrefix marks participant ids that belong to an AI assistant.
const AIParticipantPrefix = "ai:"

// ErrNotFound is returned for unknown conversation ids.
var ErrNotFound = errors.New("conversation not found")

// Gateway is the local backend.
type Gateway struct {
	driver store.Driver
	hub    *Hub
	logger *slog.Logger
	now    func() time.Time

	// mu serializes writes so created_ts stays strictly increasing and a
	// conversion is never interleaved with another write to the same row.
	mu           sync.Mutex
	lastCreated  int64
	defaultModel string
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithDefaultModel sets the model label given to new AI conversations.
func WithDefaultModel(label string) Option {
	return func(g *Gateway) { g.defaultModel = label }
}

// New creates a Gateway over driver. The driver must already be migrated.
func New(driver store.Driver, opts ...Option) *Gateway {
	g := &Gateway{
		driver: driver,
		hub:    NewHub(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Hub returns the event hub.
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// Close drops every subscriber. The driver is owned by the caller.
func (g *Gateway) Close() {
	g.hub.Close()
}

func (g *Gateway) ListConversations(ctx context.Context) ([]store.ConversationRecord, error) {
	rows, err := g.driver.ListConversations(ctx, &store.FindConversation{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversations")
	}
	records := make([]store.ConversationRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, toRecord(row))
	}
	return records, nil
}

func (g *Gateway) CreateConversation(ctx context.Context, req *gateway.CreateConversationRequest) (*store.ConversationRecord, error) {
	if req == nil {
		return nil, errors.New("create request is nil")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = store.DefaultConversationName
	}
	participants := dedupe(req.ParticipantIDs)
	hasAI := containsAI(participants)

	g.mu.Lock()
	defer g.mu.Unlock()

	row := &store.Conversation{
		ID:             "conv-" + shortuuid.New(),
		Name:           name,
		Kind:           store.NormalizeKind(string(req.Kind)),
		ParticipantIDs: participants,
		HasAI:          hasAI,
		CreatedTs:      g.nextCreatedTs(),
	}
	if hasAI {
		row.ModelLabel = g.defaultModel
	}
	created, err := g.driver.CreateConversation(ctx, row)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create conversation")
	}
	rec := toRecord(created)
	g.logger.Debug("conversation created", "conversation_id", rec.ID, "kind", rec.Kind)
	return &rec, nil
}

// AddParticipants merges participants into a conversation. A direct
// conversation that ends up with more than two participants is replaced by a
// new group conversation and p2pConvertedToGroup is published.
func (g *Gateway) AddParticipants(ctx context.Context, req *gateway.AddParticipantsRequest) (*gateway.AddParticipantsResponse, error) {
	if req == nil {
		return nil, errors.New("add participants request is nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	row, err := g.find(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	participants := dedupe(append(slices.Clone(row.ParticipantIDs), req.ParticipantIDs...))
	hasAI := containsAI(participants)

	if row.Kind != store.KindDirect || len(participants) <= 2 {
		update := &store.UpdateConversation{
			ID:             row.ID,
			ParticipantIDs: participants,
			HasAI:          &hasAI,
		}
		if hasAI && !row.HasAI && row.ModelLabel == "" && g.defaultModel != "" {
			update.ModelLabel = &g.defaultModel
		}
		if _, err := g.driver.UpdateConversation(ctx, update); err != nil {
			return nil, errors.Wrapf(err, "failed to add participants to %s", row.ID)
		}
		return &gateway.AddParticipantsResponse{}, nil
	}

	group := *row
	group.ID = "grp-" + shortuuid.New()
	group.Kind = store.KindGroup
	group.ParticipantIDs = participants
	group.HasAI = hasAI
	if hasAI && group.ModelLabel == "" {
		group.ModelLabel = g.defaultModel
	}
	if err := g.driver.ReplaceConversation(ctx, &store.ReplaceConversation{OldID: row.ID, New: &group}); err != nil {
		return nil, errors.Wrapf(err, "failed to convert %s to a group", row.ID)
	}

	g.hub.Publish(gateway.ConversionEvent(row.ID, group.ID, slices.Clone(participants)))
	g.logger.Info("direct conversation converted to group",
		"conversation_id", row.ID,
		"new_conversation_id", group.ID,
		"participants", len(participants))
	return &gateway.AddParticipantsResponse{NewConversationID: group.ID}, nil
}

func (g *Gateway) RenameConversation(ctx context.Context, req *gateway.RenameConversationRequest) error {
	if req == nil {
		return errors.New("rename request is nil")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return errors.New("name must not be empty")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	_, err := g.driver.UpdateConversation(ctx, &store.UpdateConversation{ID: req.ConversationID, Name: &name})
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(ErrNotFound, "rename %s", req.ConversationID)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to rename %s", req.ConversationID)
	}
	return nil
}

func (g *Gateway) DeleteConversation(ctx context.Context, conversationID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	err := g.driver.DeleteConversation(ctx, &store.DeleteConversation{ID: conversationID})
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(ErrNotFound, "delete %s", conversationID)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to delete %s", conversationID)
	}
	return nil
}

// Subscribe streams hub events until ctx is done.
func (g *Gateway) Subscribe(ctx context.Context) (<-chan gateway.Event, error) {
	ch, cancel := g.hub.Subscribe()
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, nil
}

// PostMessages stores the last message as the conversation preview and
// publishes newMessages. The preview is stored raw; stripping is a display
// concern.
func (g *Gateway) PostMessages(ctx context.Context, conversationID string, messages ...store.Message) error {
	if len(messages) == 0 {
		return nil
	}
	preview := messages[len(messages)-1].Body()

	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now().UnixMilli()
	_, err := g.driver.UpdateConversation(ctx, &store.UpdateConversation{
		ID:                 conversationID,
		LastMessagePreview: &preview,
		LastMessageTs:      &ts,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(ErrNotFound, "post to %s", conversationID)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to post messages to %s", conversationID)
	}

	g.hub.Publish(gateway.NewMessagesEvent(conversationID, slices.Clone(messages)...))
	return nil
}

// SetDefaultModel relabels every AI conversation and publishes
// defaultModelChanged. It returns the number of relabeled conversations.
func (g *Gateway) SetDefaultModel(ctx context.Context, label string) (int64, error) {
	label = strings.TrimSpace(label)

	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.driver.UpdateModelLabels(ctx, &store.UpdateModelLabels{ModelLabel: label})
	if err != nil {
		return 0, errors.Wrap(err, "failed to update model labels")
	}
	g.defaultModel = label

	g.hub.Publish(gateway.ModelChangedEvent(label))
	g.logger.Info("default model changed", "model_label", label, "updated", n)
	return n, nil
}

func (g *Gateway) find(ctx context.Context, id string) (*store.Conversation, error) {
	rows, err := g.driver.ListConversations(ctx, &store.FindConversation{ID: &id})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find %s", id)
	}
	if len(rows) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "conversation %s", id)
	}
	return rows[0], nil
}

// nextCreatedTs returns a strictly increasing creation timestamp so list
// order is stable even for creates within the same millisecond.
func (g *Gateway) nextCreatedTs() int64 {
	ts := g.now().UnixMilli()
	if ts <= g.lastCreated {
		ts = g.lastCreated + 1
	}
	g.lastCreated = ts
	return ts
}

func toRecord(row *store.Conversation) store.ConversationRecord {
	rec := store.ConversationRecord{
		ID:                 row.ID,
		Name:               row.Name,
		Kind:               row.Kind,
		ParticipantIDs:     slices.Clone(row.ParticipantIDs),
		LastMessagePreview: row.LastMessagePreview,
		ModelLabel:         row.ModelLabel,
	}
	if row.LastMessageTs > 0 {
		rec.LastMessageAt = time.UnixMilli(row.LastMessageTs)
	}
	return rec
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func containsAI(ids []string) bool {
	return slices.ContainsFunc(ids, func(id string) bool {
		return strings.HasPrefix(id, AIParticipantPrefix)
	})
}

// Ensure Gateway implements gateway.Gateway
var _ gateway.Gateway = (*Gateway)(nil)
