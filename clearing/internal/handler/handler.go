package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/bond-venue/clearing/internal/auth"
	"github.com/Checker-Finance/bond-venue/clearing/internal/directory"
	"github.com/Checker-Finance/bond-venue/clearing/internal/ledger"
	"github.com/Checker-Finance/bond-venue/clearing/internal/metrics"
	"github.com/Checker-Finance/bond-venue/pkg/eventbus"
	"github.com/Checker-Finance/bond-venue/pkg/model"
)

const requestTimeout = 5 * time.Second

// Handler consumes the clearing command subject and dispatches to the auth
// manager, the directory and the trade ledger. Clearing is the only agent
// every other agent talks to before the venue, so the subject is a fixed
// well-known name rather than a directory lookup.
type Handler struct {
	logger   *zap.Logger
	nc       *nats.Conn
	identity model.Identity
	subject  string

	auth      *auth.Manager
	directory *directory.Directory
	ledger    ledger.Ledger
	bus       *eventbus.EventBus

	sub *nats.Subscription
}

// New constructs a Handler with its dependencies.
func New(
	logger *zap.Logger,
	nc *nats.Conn,
	identity model.Identity,
	subject string,
	authMgr *auth.Manager,
	dir *directory.Directory,
	book ledger.Ledger,
	bus *eventbus.EventBus,
) *Handler {
	return &Handler{
		logger:    logger,
		nc:        nc,
		identity:  identity,
		subject:   subject,
		auth:      authMgr,
		directory: dir,
		ledger:    book,
		bus:       bus,
	}
}

// Start subscribes to the clearing command subject.
func (h *Handler) Start() error {
	sub, err := h.nc.QueueSubscribe(h.subject, "clearing-workers", h.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", h.subject, err)
	}
	h.sub = sub
	h.logger.Info("clearing.listening", zap.String("subject", h.subject))
	return nil
}

// Drain unsubscribes and lets in-flight handlers finish.
func (h *Handler) Drain() error {
	if h.sub == nil {
		return nil
	}
	return h.sub.Drain()
}

// handleMessage routes one message to the matching command handler.
func (h *Handler) handleMessage(msg *nats.Msg) {
	start := time.Now()

	var env model.Envelope
	if err := env.UnmarshalFrom(msg.Data); err != nil {
		h.logger.Warn("clearing.invalid_envelope", zap.Error(err))
		return
	}

	switch env.Kind {
	case model.KindLogin:
		h.onLogin(env, msg)
	case model.KindRecordTrade:
		h.onRecordTrade(env, msg)
	case model.KindGetRisk:
		h.onGetRisk(env, msg)
	case model.KindRegisterEntry:
		h.onRegisterEntry(env, msg)
	case model.KindUnregisterEntry:
		h.onUnregisterEntry(env, msg)
	case model.KindFindEntries:
		h.onFindEntries(env, msg)
	default:
		metrics.MarkMessage(env.Kind, "rejected")
		h.respond(msg, model.KindNotUnderstood, model.NotUnderstood{Kind: env.Kind})
	}

	h.logger.Debug("clearing.message_handled",
		zap.String("kind", env.Kind),
		zap.Duration("latency", time.Since(start)),
	)
}

func (h *Handler) onLogin(env model.Envelope, msg *nats.Msg) {
	var req model.LoginRequest
	if err := env.Decode(&req); err != nil {
		metrics.MarkMessage(env.Kind, "rejected")
		h.respond(msg, model.KindLoginInvalid, model.LoginReply{})
		return
	}

	token, ok := h.auth.Login(req.User, req.Password)
	if !ok {
		metrics.MarkMessage(env.Kind, "rejected")
		h.respond(msg, model.KindLoginInvalid, model.LoginReply{})
		return
	}

	metrics.MarkMessage(env.Kind, "ok")
	metrics.ActiveSessions.Set(float64(h.auth.SessionCount()))
	h.respond(msg, model.KindLoginToken, model.LoginReply{Token: token})
}

func (h *Handler) onRecordTrade(env model.Envelope, msg *nats.Msg) {
	var report model.TradeReport
	if err := env.Decode(&report); err != nil {
		metrics.MarkMessage(env.Kind, "rejected")
		h.respond(msg, env.Kind, model.Ack{OK: false, Reason: "bad payload"})
		return
	}

	user, ok := h.auth.Verify(report.Token)
	if !ok {
		metrics.MarkMessage(env.Kind, "rejected")
		h.respond(msg, env.Kind, model.Ack{OK: false, Reason: "invalid token"})
		return
	}
	if report.Reporter != user {
		// Agents report their own side only; the session names the reporter.
		metrics.MarkMessage(env.Kind, "rejected")
		h.respond(msg, env.Kind, model.Ack{OK: false, Reason: "reporter does not match session"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	recorded, err := h.ledger.RecordTrade(ctx, report)
	if err != nil {
		metrics.MarkMessage(env.Kind, "rejected")
		h.respond(msg, env.Kind, model.Ack{OK: false, Reason: err.Error()})
		return
	}

	if recorded {
		metrics.TradesRecorded.Inc()
		h.bus.Publish(ledger.TradeRecordedEvent{Report: report})
		h.logger.Info("clearing.trade_recorded",
			zap.Uint64("rfq_id", report.RfqID),
			zap.String("reporter", report.Reporter),
			zap.String("asset", report.Asset),
			zap.String("size", report.Size.String()),
			zap.String("price", report.Price.String()),
		)
	}
	metrics.MarkMessage(env.Kind, "ok")
	// A duplicate still acks: the reporter's trade is on the book.
	h.respond(msg, env.Kind, model.Ack{OK: true})
}

func (h *Handler) onGetRisk(env model.Envelope, msg *nats.Msg) {
	var req model.RiskRequest
	if err := env.Decode(&req); err != nil {
		metrics.MarkMessage(env.Kind, "rejected")
		h.respond(msg, env.Kind, model.RiskReply{})
		return
	}

	user, ok := h.auth.Verify(req.Token)
	if !ok {
		metrics.MarkMessage(env.Kind, "rejected")
		h.respond(msg, env.Kind, model.RiskReply{})
		return
	}
	// Agents see their own book only.
	agent := req.Agent
	if agent == "" {
		agent = user
	}
	if agent != user {
		metrics.MarkMessage(env.Kind, "rejected")
		h.respond(msg, env.Kind, model.RiskReply{Agent: agent})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	positions, err := h.ledger.Risk(ctx, agent)
	if err != nil {
		h.logger.Error("clearing.risk_query_failed", zap.String("agent", agent), zap.Error(err))
		metrics.MarkMessage(env.Kind, "rejected")
		h.respond(msg, env.Kind, model.RiskReply{Agent: agent})
		return
	}

	metrics.MarkMessage(env.Kind, "ok")
	h.respond(msg, env.Kind, model.RiskReply{Agent: agent, Positions: positions})
}

func (h *Handler) onRegisterEntry(env model.Envelope, msg *nats.Msg) {
	var entry model.DirectoryEntry
	if err := env.Decode(&entry); err != nil || entry.EntryType == "" || entry.Name == "" {
		metrics.MarkMessage(env.Kind, "rejected")
		h.respond(msg, env.Kind, model.Ack{OK: false, Reason: "bad entry"})
		return
	}

	h.directory.Register(entry)
	metrics.MarkMessage(env.Kind, "ok")
	metrics.DirectoryEntries.Set(float64(h.directory.EntryCount()))
	h.respond(msg, env.Kind, model.Ack{OK: true})
}

func (h *Handler) onUnregisterEntry(env model.Envelope, msg *nats.Msg) {
	var entry model.DirectoryEntry
	if err := env.Decode(&entry); err != nil {
		metrics.MarkMessage(env.Kind, "rejected")
		h.respond(msg, env.Kind, model.Ack{OK: false, Reason: "bad entry"})
		return
	}

	ok := h.directory.Unregister(entry.EntryType, entry.Name)
	metrics.MarkMessage(env.Kind, "ok")
	metrics.DirectoryEntries.Set(float64(h.directory.EntryCount()))
	h.respond(msg, env.Kind, model.Ack{OK: ok})
}

func (h *Handler) onFindEntries(env model.Envelope, msg *nats.Msg) {
	var req model.FindEntriesRequest
	if err := env.Decode(&req); err != nil {
		metrics.MarkMessage(env.Kind, "rejected")
		h.respond(msg, env.Kind, model.FindEntriesReply{})
		return
	}

	metrics.MarkMessage(env.Kind, "ok")
	h.respond(msg, env.Kind, model.FindEntriesReply{Entries: h.directory.Find(req.EntryType)})
}

func (h *Handler) respond(msg *nats.Msg, kind string, payload any) {
	if msg.Reply == "" {
		return
	}
	env, err := model.NewEnvelope(kind, h.identity, payload)
	if err != nil {
		h.logger.Error("clearing.encode_reply", zap.String("kind", kind), zap.Error(err))
		return
	}
	data, err := env.Marshal()
	if err != nil {
		h.logger.Error("clearing.marshal_reply", zap.String("kind", kind), zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		h.logger.Warn("clearing.respond_failed", zap.String("kind", kind), zap.Error(err))
	}
}
