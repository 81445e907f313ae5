package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/bond-venue/pkg/model"
)

// ErrLoginFailed is returned when clearing rejects the agent's credentials.
var ErrLoginFailed = errors.New("login failed")

// Handler processes one inbound envelope. The raw NATS message is passed
// alongside so handlers can respond in-band on request/reply steps.
type Handler func(env model.Envelope, msg *nats.Msg)

// Conn is the connection capability shared by every agent in the system.
// Venue, dealer and taker embed one rather than inheriting from a common
// agent type: it carries identity, the clearing session token and the
// envelope plumbing, nothing else.
type Conn struct {
	nc     *nats.Conn
	logger *zap.Logger

	id       model.Identity
	user     string
	password string

	clearingSubject string
	token           int64

	sub *nats.Subscription
}

// InboxSubject derives the notification subject for a participant name.
func InboxSubject(name string) string {
	return "fitg.agent." + sanitize(name) + ".inbox"
}

// VenueSubject derives the command subject for a venue name.
func VenueSubject(name string) string {
	return "fitg.venue." + sanitize(name) + ".cmd"
}

func sanitize(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, ".", "-")
	return s
}

// New creates a connection capability for the named agent.
func New(nc *nats.Conn, logger *zap.Logger, name, user, password, clearingSubject string) *Conn {
	return &Conn{
		nc:     nc,
		logger: logger,
		id: model.Identity{
			Name:  name,
			Inbox: InboxSubject(name),
		},
		user:            user,
		password:        password,
		clearingSubject: clearingSubject,
	}
}

// Identity returns the agent's wire identity.
func (c *Conn) Identity() model.Identity { return c.id }

// Token returns the clearing session token obtained by Login.
func (c *Conn) Token() int64 { return c.token }

// Subscribe starts delivering inbox envelopes to the handler.
func (c *Conn) Subscribe(handler Handler) error {
	sub, err := c.nc.Subscribe(c.id.Inbox, func(msg *nats.Msg) {
		var env model.Envelope
		if err := env.UnmarshalFrom(msg.Data); err != nil {
			c.logger.Warn("agent.inbox.bad_envelope", zap.Error(err))
			return
		}
		handler(env, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.id.Inbox, err)
	}
	c.sub = sub
	return nil
}

// Publish sends a fire-and-forget envelope to a subject.
func (c *Conn) Publish(subject, kind string, payload any) error {
	env, err := model.NewEnvelope(kind, c.id, payload)
	if err != nil {
		return err
	}
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	return c.nc.Publish(subject, data)
}

// Request sends an envelope and waits for the reply envelope.
func (c *Conn) Request(ctx context.Context, subject, kind string, payload any) (model.Envelope, error) {
	env, err := model.NewEnvelope(kind, c.id, payload)
	if err != nil {
		return model.Envelope{}, err
	}
	data, err := env.Marshal()
	if err != nil {
		return model.Envelope{}, err
	}

	msg, err := c.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("request %s %s: %w", subject, kind, err)
	}

	var reply model.Envelope
	if err := reply.UnmarshalFrom(msg.Data); err != nil {
		return model.Envelope{}, fmt.Errorf("reply to %s: %w", kind, err)
	}
	return reply, nil
}

// Respond answers a request/reply message in-band.
func (c *Conn) Respond(msg *nats.Msg, kind string, payload any) error {
	if msg.Reply == "" {
		return nil
	}
	env, err := model.NewEnvelope(kind, c.id, payload)
	if err != nil {
		return err
	}
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	return msg.Respond(data)
}

// Login obtains a session token from clearing. Agents call this once at
// startup; the venue trusts any caller holding a valid token.
func (c *Conn) Login(ctx context.Context) error {
	reply, err := c.Request(ctx, c.clearingSubject, model.KindLogin, model.LoginRequest{
		User:     c.user,
		Password: c.password,
	})
	if err != nil {
		return err
	}
	if reply.Kind != model.KindLoginToken {
		return ErrLoginFailed
	}
	var lr model.LoginReply
	if err := reply.Decode(&lr); err != nil {
		return err
	}
	c.token = lr.Token
	c.logger.Info("agent.login_ok", zap.String("agent", c.id.Name))
	return nil
}

// RegisterWithDirectory publishes this agent's entry so peers can find it.
func (c *Conn) RegisterWithDirectory(ctx context.Context, entryType, subject, details string, vnets []string) error {
	reply, err := c.Request(ctx, c.clearingSubject, model.KindRegisterEntry, model.DirectoryEntry{
		EntryType: entryType,
		Name:      c.id.Name,
		Subject:   subject,
		Details:   details,
		VNets:     vnets,
	})
	if err != nil {
		return fmt.Errorf("register %s(%s): %w", entryType, c.id.Name, err)
	}
	var ack model.Ack
	if err := reply.Decode(&ack); err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("register %s(%s) rejected: %s", entryType, c.id.Name, ack.Reason)
	}
	return nil
}

// UnregisterFromDirectory removes this agent's entry. Best effort at
// shutdown; a failure is logged, not returned.
func (c *Conn) UnregisterFromDirectory(ctx context.Context, entryType string) {
	_, err := c.Request(ctx, c.clearingSubject, model.KindUnregisterEntry, model.DirectoryEntry{
		EntryType: entryType,
		Name:      c.id.Name,
	})
	if err != nil {
		c.logger.Warn("agent.directory_unregister_failed",
			zap.String("entry_type", entryType),
			zap.String("agent", c.id.Name),
			zap.Error(err),
		)
	}
}

// RecordTrade reports one side of a completed trade to clearing and waits
// for the ack. The report must already carry the session token.
func (c *Conn) RecordTrade(ctx context.Context, report model.TradeReport) error {
	reply, err := c.Request(ctx, c.clearingSubject, model.KindRecordTrade, report)
	if err != nil {
		return err
	}
	var ack model.Ack
	if err := reply.Decode(&ack); err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("trade report rejected: %s", ack.Reason)
	}
	return nil
}

// Risk fetches this agent's aggregated positions from clearing.
func (c *Conn) Risk(ctx context.Context) ([]model.RiskPosition, error) {
	reply, err := c.Request(ctx, c.clearingSubject, model.KindGetRisk, model.RiskRequest{
		Token: c.token,
		Agent: c.id.Name,
	})
	if err != nil {
		return nil, err
	}
	var rr model.RiskReply
	if err := reply.Decode(&rr); err != nil {
		return nil, err
	}
	return rr.Positions, nil
}

// FindEntries looks up directory entries of one type.
func (c *Conn) FindEntries(ctx context.Context, entryType string) ([]model.DirectoryEntry, error) {
	reply, err := c.Request(ctx, c.clearingSubject, model.KindFindEntries, model.FindEntriesRequest{
		EntryType: entryType,
	})
	if err != nil {
		return nil, err
	}
	var fr model.FindEntriesReply
	if err := reply.Decode(&fr); err != nil {
		return nil, err
	}
	return fr.Entries, nil
}

// WaitForEntry polls the directory until a named entry of the given type
// appears or the context expires.
func (c *Conn) WaitForEntry(ctx context.Context, entryType, name string, poll time.Duration) (model.DirectoryEntry, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		entries, err := c.FindEntries(ctx, entryType)
		if err == nil {
			for _, e := range entries {
				if e.Name == name {
					return e, nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return model.DirectoryEntry{}, fmt.Errorf("waiting for %s(%s): %w", entryType, name, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Drain unsubscribes the inbox and flushes pending publishes.
func (c *Conn) Drain() {
	if c.sub != nil {
		_ = c.sub.Drain()
	}
	_ = c.nc.Drain()
}
