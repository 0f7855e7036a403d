package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightpath-solar/lead-funnel/internal/llm"
	"github.com/brightpath-solar/lead-funnel/internal/model"
	"github.com/brightpath-solar/lead-funnel/internal/notify"
	"github.com/brightpath-solar/lead-funnel/internal/store"
	"github.com/brightpath-solar/lead-funnel/pkg/logger"
	"github.com/brightpath-solar/lead-funnel/pkg/metrics"
)

// CRMSaver reconciles one session into the record-of-truth and returns
// the external lead id. Implemented by the reconcile package.
type CRMSaver interface {
	SyncOne(ctx context.Context, sessionID string) (string, error)
}

// Service executes session operations against the store. Correctness
// under the concurrent sweep path comes from the store's merge and
// conditional updates, not from locking here.
type Service struct {
	store     store.SessionStore
	router    *notify.Router
	saver     CRMSaver
	assistant llm.Client
	logger    *logger.Logger
	now       func() time.Time
}

// NewService creates a session service. assistant may be nil; saver must
// be set before SaveToCRM is used.
func NewService(st store.SessionStore, router *notify.Router, assistant llm.Client, log *logger.Logger) *Service {
	return &Service{
		store:     st,
		router:    router,
		assistant: assistant,
		logger:    log,
		now:       time.Now,
	}
}

// SetSaver wires the reconciliation path in. Separate from NewService
// because the reconciler and the service reference each other's concerns.
func (s *Service) SetSaver(saver CRMSaver) { s.saver = saver }

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// newResumeToken returns an unguessable 256-bit token.
func newResumeToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand failure means the host is broken
	}
	return hex.EncodeToString(buf)
}

// Create opens a new session in the active status at the first phase of
// its kind.
func (s *Service) Create(ctx context.Context, req *model.CreateSessionRequest) (*model.Session, error) {
	req.ApplyDefaults()
	if _, ok := phaseTables[req.Kind]; !ok {
		return nil, model.NewValidationError("kind", "unknown session kind")
	}

	now := s.now()
	sess := &model.Session{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ResumeToken:    newResumeToken(),
		Kind:           req.Kind,
		Status:         model.StatusActive,
		Phase:          0,
		CollectedData:  *req.Data,
		CreatedAt:      now,
		LastActivityAt: now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	metrics.SessionsCreated.WithLabelValues(string(sess.Kind)).Inc()
	s.logger.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("kind", string(sess.Kind)),
	)
	return sess, nil
}

// Get returns a session by id.
func (s *Service) Get(ctx context.Context, id string) (*model.Session, error) {
	return s.store.GetSessionByID(ctx, id)
}

// MergeData folds a partial update into the session's collected data.
// The merge is additive; it never nulls out stored fields.
func (s *Service) MergeData(ctx context.Context, id string, req *model.UpdateSessionRequest) (*model.Session, error) {
	sess, err := s.store.GetSessionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, model.NewValidationError("status", "session is closed")
	}
	now := s.now()
	return s.store.UpdateSession(ctx, id, &store.UpdateSession{
		Data:           req.Data,
		LastActivityAt: &now,
	})
}

// Advance moves the session to its next phase after validating the
// current phase's required fields against the merged data view. An
// advance at the final phase is a no-op returning the current state.
func (s *Service) Advance(ctx context.Context, id string, req *model.AdvanceRequest) (*model.Session, error) {
	sess, err := s.store.GetSessionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.StatusActive {
		return nil, model.NewValidationError("status", "session is not active")
	}
	if sess.Phase >= FinalPhase(sess.Kind) {
		return sess, nil
	}

	merged := sess.CollectedData
	merged.Merge(req.Data)
	if err := validateAdvance(sess.Kind, sess.Phase, &merged); err != nil {
		return nil, err
	}

	next := sess.Phase + 1
	now := s.now()
	return s.store.UpdateSession(ctx, id, &store.UpdateSession{
		Phase:               &next,
		HighestPhaseReached: &next,
		Data:                req.Data,
		LastActivityAt:      &now,
	})
}

// Complete honors the explicit completion signal once all required data
// is present.
func (s *Service) Complete(ctx context.Context, id string) (*model.Session, error) {
	sess, err := s.store.GetSessionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.StatusActive {
		return nil, model.NewValidationError("status", "session is not active")
	}
	if err := validateComplete(&sess.CollectedData); err != nil {
		return nil, err
	}

	now := s.now()
	completed := model.StatusCompleted
	applied, err := s.store.ConditionalUpdateSession(ctx, id, []model.SessionStatus{model.StatusActive}, &store.UpdateSession{
		Status:         &completed,
		LastActivityAt: &now,
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, model.NewValidationError("status", "session is not active")
	}
	metrics.SessionTransitions.WithLabelValues(string(model.StatusCompleted)).Inc()

	sess, err = s.store.GetSessionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.router.Notify(ctx, &model.Event{
		ID:        uuid.Must(uuid.NewV7()).String(),
		SessionID: sess.ID,
		Type:      model.EventSessionCompleted,
		Summary:   "capture session completed",
		Fields:    map[string]string{"kind": string(sess.Kind), "phase": PhaseName(sess.Kind, sess.Phase)},
		CreatedAt: now,
	})
	return sess, nil
}

// Resume re-enters a session by resume token. A paused session returns
// to active at exactly its persisted phase and data; an active session is
// returned as-is.
func (s *Service) Resume(ctx context.Context, token string) (*model.Session, error) {
	sess, err := s.store.GetSessionByResumeToken(ctx, token)
	if err != nil {
		return nil, err
	}

	switch sess.Status {
	case model.StatusActive:
		return sess, nil
	case model.StatusPaused:
		now := s.now()
		active := model.StatusActive
		applied, err := s.store.ConditionalUpdateSession(ctx, sess.ID, []model.SessionStatus{model.StatusPaused}, &store.UpdateSession{
			Status:                &active,
			ClearRecoveryNotified: true,
			LastActivityAt:        &now,
		})
		if err != nil {
			return nil, err
		}
		if applied {
			metrics.SessionTransitions.WithLabelValues(string(model.StatusActive)).Inc()
		}
		// Re-read so the caller sees exactly what was persisted, whether
		// we won the race or the sweep moved it first.
		return s.store.GetSessionByID(ctx, sess.ID)
	default:
		return nil, model.NewValidationError("status", "session is no longer resumable")
	}
}

// AppendTurn records a user turn on an assistant session and, when an
// assistant backend is configured, generates and records the reply.
// Reply generation failing never loses the user turn.
func (s *Service) AppendTurn(ctx context.Context, id string, req *model.AppendTurnRequest) (*model.AppendTurnResponse, error) {
	if req.Content == "" {
		return nil, model.NewValidationError("content", "required")
	}
	sess, err := s.store.GetSessionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Kind != model.KindAssistant {
		return nil, model.NewValidationError("kind", "turns apply to assistant sessions only")
	}
	if sess.Status != model.StatusActive {
		return nil, model.NewValidationError("status", "session is not active")
	}

	now := s.now()
	userTurn := model.ConversationTurn{Role: model.RoleUser, Content: req.Content, CreatedAt: now}
	sess, err = s.store.UpdateSession(ctx, id, &store.UpdateSession{
		AppendTurns:    []model.ConversationTurn{userTurn},
		LastActivityAt: &now,
	})
	if err != nil {
		return nil, err
	}

	resp := &model.AppendTurnResponse{Turn: userTurn}
	if s.assistant == nil {
		return resp, nil
	}

	reply, err := s.generateReply(ctx, sess)
	if err != nil {
		metrics.AssistantReplies.WithLabelValues(s.assistant.Name(), "error").Inc()
		s.logger.Warn("assistant reply failed",
			zap.String("session_id", id),
			zap.Error(err),
		)
		return resp, nil
	}
	metrics.AssistantReplies.WithLabelValues(s.assistant.Name(), "ok").Inc()

	replyTurn := model.ConversationTurn{Role: model.RoleAssistant, Content: reply, CreatedAt: s.now()}
	if _, err := s.store.UpdateSession(ctx, id, &store.UpdateSession{
		AppendTurns: []model.ConversationTurn{replyTurn},
	}); err != nil {
		return nil, err
	}
	resp.Reply = &replyTurn
	return resp, nil
}

// historyWindow bounds how much context is replayed to the provider.
const historyWindow = 40

func (s *Service) generateReply(ctx context.Context, sess *model.Session) (string, error) {
	history := sess.ConversationHistory
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	messages := make([]llm.ChatMessage, len(history))
	for i, turn := range history {
		messages[i] = llm.ChatMessage{Role: string(turn.Role), Content: turn.Content}
	}

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	out, err := s.assistant.Complete(callCtx, &llm.CompletionRequest{
		System:   llm.QualifierPrompt,
		Messages: messages,
	})
	if err != nil {
		return "", model.NewUpstreamError("assistant", err)
	}
	return out.Content, nil
}

// SaveToCRM is the live "save" action an assistant tool call or wizard
// finish invokes. It is idempotency-guarded on crmLeadId: if the session
// already reconciled, the existing id is returned without creating
// anything.
func (s *Service) SaveToCRM(ctx context.Context, id string) (*model.SaveResponse, error) {
	sess, err := s.store.GetSessionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.CRMLeadID != "" {
		return &model.SaveResponse{CRMLeadID: sess.CRMLeadID, AlreadyCreated: true}, nil
	}

	crmID, err := s.saver.SyncOne(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.SaveResponse{CRMLeadID: crmID}, nil
}

// List returns sessions matching find. Admin surface.
func (s *Service) List(ctx context.Context, find *store.FindSessions) ([]*model.Session, error) {
	return s.store.ListSessions(ctx, find)
}
