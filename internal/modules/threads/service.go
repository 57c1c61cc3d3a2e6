package threads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/consilience-ai/consilience-backend/internal/data/repos/chunks"
	"github.com/consilience-ai/consilience-backend/internal/data/repos/feedback"
	memrepo "github.com/consilience-ai/consilience-backend/internal/data/repos/memory"
	threadrepo "github.com/consilience-ai/consilience-backend/internal/data/repos/threads"
	types "github.com/consilience-ai/consilience-backend/internal/domain"
	"github.com/consilience-ai/consilience-backend/internal/pkg/dbctx"
	pkgerrors "github.com/consilience-ai/consilience-backend/internal/pkg/errors"
	"github.com/consilience-ai/consilience-backend/internal/pkg/pointers"
	"github.com/consilience-ai/consilience-backend/internal/platform/apierr"
	"github.com/consilience-ai/consilience-backend/internal/platform/logger"
	"github.com/consilience-ai/consilience-backend/internal/platform/openai"
)

// Config tunes thread replies. Zero numeric values fall back to defaults.
type Config struct {
	// EnableDialogRetrieval gates per-turn retrieval enhancement globally.
	EnableDialogRetrieval bool

	// HistoryTurns bounds the transcript for unenhanced replies (default 6).
	HistoryTurns int

	// DefaultMaxResults is the per-turn retrieval k (default 3).
	DefaultMaxResults int
}

func (c Config) withDefaults() Config {
	if c.HistoryTurns <= 0 {
		c.HistoryTurns = 6
	}
	if c.DefaultMaxResults <= 0 {
		c.DefaultMaxResults = 3
	}
	return c
}

// Info is the list projection of one thread.
type Info struct {
	FeedbackID    int64     `json:"feedback_id"`
	MemoryID      int64     `json:"memory_id"`
	Title         string    `json:"title"`
	OriginalQuery string    `json:"original_query"`
	MessageCount  int64     `json:"message_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Thread is the detail projection: anchor metadata plus messages in id order.
type Thread struct {
	FeedbackID     int64                  `json:"feedback_id"`
	MemoryID       int64                  `json:"memory_id"`
	Title          string                 `json:"title"`
	OriginalQuery  string                 `json:"original_query"`
	OriginalAnswer string                 `json:"original_answer"`
	Messages       []*types.ThreadMessage `json:"messages"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

type AppendInput struct {
	FeedbackID           int64
	Message              string
	EnhanceWithRetrieval bool
	MaxResults           int
}

type AppendResult struct {
	UserMessage      *types.ThreadMessage `json:"user_message"`
	AssistantMessage *types.ThreadMessage `json:"assistant_message"`
	References       []string             `json:"references"`
	ChunkIDs         []int64              `json:"chunk_ids"`
}

// FeedbackInput mirrors the feedback endpoint body. Nil pointers leave the
// stored value untouched.
type FeedbackInput struct {
	MemoryID     int64
	FeedbackText *string
	Rating       *int
	IsFavorite   *bool
}

// Service manages feedback rows and the threads anchored on them.
type Service interface {
	Create(ctx context.Context, memoryID int64, title string) (*types.UserFeedback, error)
	List(ctx context.Context) ([]Info, error)
	Get(ctx context.Context, feedbackID int64) (*Thread, error)
	Append(ctx context.Context, in AppendInput) (*AppendResult, error)

	SaveFeedback(ctx context.Context, in FeedbackInput) (*types.UserFeedback, error)
	Favorites(ctx context.Context) ([]*types.UserFeedback, error)
}

type service struct {
	db       *gorm.DB
	log      *logger.Logger
	ai       openai.Client
	chunks   chunks.Repo
	memory   memrepo.Repo
	feedback feedback.Repo
	messages threadrepo.Repo
	cfg      Config
}

func NewService(
	db *gorm.DB,
	log *logger.Logger,
	ai openai.Client,
	chunkRepo chunks.Repo,
	memoryRepo memrepo.Repo,
	feedbackRepo feedback.Repo,
	messageRepo threadrepo.Repo,
	cfg Config,
) Service {
	return &service{
		db:       db,
		log:      log.With("service", "ThreadService"),
		ai:       ai,
		chunks:   chunkRepo,
		memory:   memoryRepo,
		feedback: feedbackRepo,
		messages: messageRepo,
		cfg:      cfg.withDefaults(),
	}
}

// Create marks the memory's feedback row as a thread and seeds the first two
// messages from the original question and answer.
func (s *service) Create(ctx context.Context, memoryID int64, title string) (*types.UserFeedback, error) {
	if memoryID <= 0 {
		return nil, apierr.BadInput(fmt.Errorf("%w: missing memory_id", pkgerrors.ErrInvalidArgument))
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apierr.BadInput(fmt.Errorf("%w: missing thread_title", pkgerrors.ErrInvalidArgument))
	}

	var row *types.UserFeedback
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}

		entry, err := s.memory.GetByID(dbc, memoryID)
		if err != nil {
			return err
		}
		fb, err := s.feedback.GetByMemoryID(dbc, memoryID)
		if err != nil {
			return err
		}
		if fb != nil && fb.IsThread {
			return fmt.Errorf("%w: thread already exists for memory %d", pkgerrors.ErrConflict, memoryID)
		}
		if fb == nil {
			fb, err = s.feedback.Upsert(dbc, feedback.UpsertInput{MemoryID: memoryID})
			if err != nil {
				return err
			}
		}
		if err := s.feedback.MarkThread(dbc, fb.ID, title); err != nil {
			return err
		}

		seed := []*types.ThreadMessage{
			{FeedbackID: fb.ID, Message: entry.QueryText, IsUser: true},
			{FeedbackID: fb.ID, Message: entry.Answer, IsUser: false, Refs: entry.Refs, ChunkIDs: entry.ChunkIDs},
		}
		if _, err := s.messages.AppendMessages(dbc, seed); err != nil {
			return err
		}

		row, err = s.feedback.GetByID(dbc, fb.ID)
		return err
	})
	if err != nil {
		return nil, apierr.From(err)
	}

	s.log.Info("Thread created", "feedback_id", row.ID, "memory_id", memoryID, "title", title)
	return row, nil
}

func (s *service) List(ctx context.Context) ([]Info, error) {
	dbc := dbctx.Context{Ctx: ctx}
	rows, err := s.feedback.ListThreads(dbc)
	if err != nil {
		return nil, apierr.Store(err)
	}

	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	counts, err := s.messages.CountByFeedbackIDs(dbc, ids)
	if err != nil {
		return nil, apierr.Store(err)
	}

	out := make([]Info, 0, len(rows))
	for _, row := range rows {
		info := Info{
			FeedbackID:   row.ID,
			MemoryID:     row.MemoryID,
			MessageCount: counts[row.ID],
			CreatedAt:    row.CreatedAt,
			UpdatedAt:    row.UpdatedAt,
		}
		if row.ThreadTitle != nil {
			info.Title = *row.ThreadTitle
		}
		if row.Memory != nil {
			info.OriginalQuery = row.Memory.QueryText
		}
		out = append(out, info)
	}
	return out, nil
}

func (s *service) Get(ctx context.Context, feedbackID int64) (*Thread, error) {
	if feedbackID <= 0 {
		return nil, apierr.BadInput(fmt.Errorf("%w: missing thread id", pkgerrors.ErrInvalidArgument))
	}
	dbc := dbctx.Context{Ctx: ctx}

	fb, err := s.feedback.GetByID(dbc, feedbackID)
	if err != nil {
		return nil, apierr.From(err)
	}
	if !fb.IsThread {
		return nil, apierr.NotFound(fmt.Errorf("%w: feedback %d is not a thread", pkgerrors.ErrNotFound, feedbackID))
	}

	entry, err := s.memory.GetByID(dbc, fb.MemoryID)
	if err != nil {
		return nil, apierr.From(err)
	}
	msgs, err := s.messages.ListMessages(dbc, feedbackID)
	if err != nil {
		return nil, apierr.Store(err)
	}

	out := &Thread{
		FeedbackID:     fb.ID,
		MemoryID:       fb.MemoryID,
		OriginalQuery:  entry.QueryText,
		OriginalAnswer: entry.Answer,
		Messages:       msgs,
		CreatedAt:      fb.CreatedAt,
		UpdatedAt:      fb.UpdatedAt,
	}
	if fb.ThreadTitle != nil {
		out.Title = *fb.ThreadTitle
	}
	return out, nil
}

// Append persists the user turn and the synthesized assistant turn in one
// transaction holding a row lock on the feedback anchor, so appends to the
// same thread serialize and message ids stay ordered.
func (s *service) Append(ctx context.Context, in AppendInput) (*AppendResult, error) {
	if in.FeedbackID <= 0 {
		return nil, apierr.BadInput(fmt.Errorf("%w: missing feedback_id", pkgerrors.ErrInvalidArgument))
	}
	userText := strings.TrimSpace(in.Message)
	if userText == "" {
		return nil, apierr.BadInput(fmt.Errorf("%w: empty message", pkgerrors.ErrInvalidArgument))
	}
	k := in.MaxResults
	if k < 0 {
		return nil, apierr.BadInput(fmt.Errorf("%w: max_results must be positive", pkgerrors.ErrInvalidArgument))
	}
	if k == 0 {
		k = s.cfg.DefaultMaxResults
	}
	if k > chunks.MaxSearchK {
		k = chunks.MaxSearchK
	}
	enhance := in.EnhanceWithRetrieval && s.cfg.EnableDialogRetrieval

	var res AppendResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}

		fb, err := s.feedback.LockByID(dbc, in.FeedbackID)
		if err != nil {
			return err
		}
		if !fb.IsThread {
			return fmt.Errorf("%w: feedback %d is not a thread", pkgerrors.ErrNotFound, fb.ID)
		}

		history, err := s.messages.ListMessages(dbc, fb.ID)
		if err != nil {
			return err
		}

		userRows, err := s.messages.AppendMessages(dbc, []*types.ThreadMessage{{
			FeedbackID: fb.ID,
			Message:    userText,
			IsUser:     true,
		}})
		if err != nil {
			return err
		}

		var (
			contextText string
			refs        = []string{}
			chunkIDs    = []int64{}
		)
		if enhance {
			hits, rerr := s.retrieve(ctx, userText, k)
			if rerr != nil {
				return rerr
			}
			contextText, refs, chunkIDs = retrievalContext(hits)
		}

		title := ""
		if fb.ThreadTitle != nil {
			title = *fb.ThreadTitle
		}
		transcript := historyTranscript(history, enhance, s.cfg.HistoryTurns)
		reply, err := s.reply(ctx, title, transcript, contextText, userText)
		if err != nil {
			return err
		}

		asstRows, err := s.messages.AppendMessages(dbc, []*types.ThreadMessage{{
			FeedbackID: fb.ID,
			Message:    reply,
			IsUser:     false,
			Refs:       jsonArray(refs),
			ChunkIDs:   jsonArray(chunkIDs),
		}})
		if err != nil {
			return err
		}

		res = AppendResult{
			UserMessage:      userRows[0],
			AssistantMessage: asstRows[0],
			References:       refs,
			ChunkIDs:         chunkIDs,
		}
		return nil
	})
	if err != nil {
		return nil, apierr.From(err)
	}

	s.log.Info("Thread message appended",
		"feedback_id", in.FeedbackID,
		"enhanced", enhance,
		"chunks", len(res.ChunkIDs),
	)
	return &res, nil
}

func (s *service) SaveFeedback(ctx context.Context, in FeedbackInput) (*types.UserFeedback, error) {
	if in.MemoryID <= 0 {
		return nil, apierr.BadInput(fmt.Errorf("%w: missing memory_id", pkgerrors.ErrInvalidArgument))
	}
	if in.Rating != nil && (*in.Rating < 1 || *in.Rating > 5) {
		return nil, apierr.BadInput(fmt.Errorf("%w: rating must be between 1 and 5", pkgerrors.ErrInvalidArgument))
	}

	dbc := dbctx.Context{Ctx: ctx}
	if _, err := s.memory.GetByID(dbc, in.MemoryID); err != nil {
		return nil, apierr.From(err)
	}
	row, err := s.feedback.Upsert(dbc, feedback.UpsertInput{
		MemoryID:     in.MemoryID,
		FeedbackText: in.FeedbackText,
		Rating:       in.Rating,
		IsFavorite:   in.IsFavorite,
	})
	if err != nil {
		return nil, apierr.From(err)
	}
	s.log.Info("Feedback saved", "feedback_id", row.ID, "memory_id", in.MemoryID)
	return row, nil
}

func (s *service) Favorites(ctx context.Context) ([]*types.UserFeedback, error) {
	dbc := dbctx.Context{Ctx: ctx}
	rows, err := s.feedback.Favorites(dbc)
	if err != nil {
		return nil, apierr.Store(err)
	}
	return rows, nil
}

// retrieve embeds the user text and searches the corpus. Retrieval is part
// of the append operation; its failures fail the request.
func (s *service) retrieve(ctx context.Context, text string, k int) ([]chunks.Hit, error) {
	vecs, err := s.ai.Embed(ctx, []string{text})
	if err != nil {
		return nil, upstreamError(fmt.Errorf("embed message: %w", err))
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, upstreamError(fmt.Errorf("embedding response was empty"))
	}
	hits, err := s.chunks.VectorSearch(dbctx.Context{Ctx: ctx}, vecs[0], k)
	if err != nil {
		return nil, apierr.Store(fmt.Errorf("vector search: %w", err))
	}
	return hits, nil
}

func (s *service) reply(ctx context.Context, title, transcript, contextText, userText string) (string, error) {
	system, user := promptThreadReply(title, transcript, contextText, userText)
	text, err := s.ai.Complete(ctx, system, user, openai.CompleteOptions{
		MaxTokens:    500,
		Temperature:  pointers.Float64(0.7),
		DisableRetry: true,
	})
	if err != nil {
		return "", upstreamError(fmt.Errorf("thread reply: %w", err))
	}
	return strings.TrimSpace(text), nil
}

// retrievalContext renders hits for the reply prompt and collects the
// evidence trail: source descriptors deduplicated in first-seen order plus
// every retrieved chunk id.
func retrievalContext(hits []chunks.Hit) (string, []string, []int64) {
	var b strings.Builder
	refs := []string{}
	seen := make(map[string]bool)
	ids := make([]int64, 0, len(hits))
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(h.Chunk.Text)
		ids = append(ids, h.Chunk.ID)
		src := h.Chunk.Source()
		if !seen[src] {
			seen[src] = true
			refs = append(refs, src)
		}
	}
	return b.String(), refs, ids
}

// historyTranscript renders prior turns for the reply prompt. Enhanced
// replies carry only the last two assistant turns; unenhanced replies carry
// the last limit messages of either role.
func historyTranscript(history []*types.ThreadMessage, enhanced bool, limit int) string {
	var picked []*types.ThreadMessage
	if enhanced {
		for i := len(history) - 1; i >= 0 && len(picked) < 2; i-- {
			if history[i] == nil || history[i].IsUser {
				continue
			}
			picked = append([]*types.ThreadMessage{history[i]}, picked...)
		}
	} else {
		start := len(history) - limit
		if start < 0 {
			start = 0
		}
		picked = history[start:]
	}

	var b strings.Builder
	for _, m := range picked {
		if m == nil || strings.TrimSpace(m.Message) == "" {
			continue
		}
		role := "Assistant"
		if m.IsUser {
			role = "User"
		}
		b.WriteString(role + ": " + strings.TrimSpace(m.Message) + "\n")
	}
	return strings.TrimSpace(b.String())
}

func jsonArray(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil || len(b) == 0 || string(b) == "null" {
		return datatypes.JSON([]byte(`[]`))
	}
	return datatypes.JSON(b)
}

// upstreamError keeps deadline classification ahead of the upstream code.
func upstreamError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apierr.Timeout(err)
	}
	return apierr.Upstream(err)
}
