package usecase

import (
	"context"
	"errors"
	"log/slog"

	"busbot/internal/domain"
	"busbot/internal/logger"
)

const (
	HelpText = "Hi welcome to the Irish BusBot. To begin please enter your Bus Stop ID number. " +
		"This can be found at the stop itself (usually a 6 digit number like 555411) or on " +
		"http://www.rtpi.ie/ (where this bot gets its data). Bus Eireann, Luas & Dublin Bus times " +
		"are currently available. Please enter a valid bus stop number."
	PostbackAck = "Postback called"
)

type TransitQuerier interface {
	Query(ctx context.Context, stop domain.StopID) domain.QueryResult
}

type Sender interface {
	Send(ctx context.Context, recipientID, text string) error
}

// Ledger records message ids that were already handled so platform
// redeliveries are not answered twice. Release undoes a claim when no reply
// reached the user.
type Ledger interface {
	MarkProcessed(ctx context.Context, messageID string) (bool, error)
	Release(ctx context.Context, messageID string) error
}

type Path string

const (
	PathText      Path = "text"
	PathPostback  Path = "postback"
	PathUnknown   Path = "unknown"
	PathDuplicate Path = "duplicate"
)

// Outcome summarises how one event was handled.
type Outcome struct {
	Path      Path
	StopID    domain.StopID
	Rejection ErrorCode
	Sent      int
	Failed    int
}

type Dispatcher struct {
	transit TransitQuerier
	sender  Sender
	ledger  Ledger
	log     *slog.Logger
}

type DispatcherOption func(*Dispatcher)

func WithLedger(l Ledger) DispatcherOption {
	return func(d *Dispatcher) {
		d.ledger = l
	}
}

func WithLogger(log *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

func NewDispatcher(q TransitQuerier, s Sender, opts ...DispatcherOption) (*Dispatcher, error) {
	if q == nil {
		return nil, errors.New("usecase: transit querier must not be nil")
	}
	if s == nil {
		return nil, errors.New("usecase: sender must not be nil")
	}
	d := &Dispatcher{
		transit: q,
		sender:  s,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With("component", "usecase.dispatcher")
	return d, nil
}

// DispatchBatch handles events in the order given. Each event is independent:
// a failure in one never stops the rest.
func (d *Dispatcher) DispatchBatch(ctx context.Context, events []domain.InboundEvent) []Outcome {
	out := make([]Outcome, 0, len(events))
	for _, ev := range events {
		out = append(out, d.Dispatch(ctx, ev))
	}
	return out
}

func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.InboundEvent) Outcome {
	log := logger.FromContext(ctx, d.log).With("sender_id", ev.SenderID, "recipient_id", ev.RecipientID)

	switch p := ev.Payload.(type) {
	case domain.TextMessage:
		return d.handleOnce(ctx, log, ev, p.MessageID)
	case domain.AttachmentMessage:
		return d.handleOnce(ctx, log, ev, p.MessageID)
	case domain.Postback:
		log.Info("Received postback", "payload", p.Payload, "title", p.Title, "timestamp", ev.Timestamp)
		out := Outcome{Path: PathPostback}
		d.send(ctx, log, &out, ev.SenderID, []string{PostbackAck})
		return out
	default:
		log.Warn("Webhook received unknown event", "timestamp", ev.Timestamp)
		return Outcome{Path: PathUnknown}
	}
}

// handleOnce claims messageID in the ledger before handling the message. The
// claim is released when every reply failed to send, so the redelivery gets
// another chance.
func (d *Dispatcher) handleOnce(ctx context.Context, log *slog.Logger, ev domain.InboundEvent, messageID string) Outcome {
	claimed, duplicate := d.claim(ctx, log, messageID)
	if duplicate {
		return Outcome{Path: PathDuplicate}
	}
	out := d.handleMessage(ctx, log, ev)
	if claimed && out.Sent == 0 && out.Failed > 0 {
		if err := d.ledger.Release(ctx, messageID); err != nil {
			log.Warn("Unable to release delivery claim", "message_id", messageID, "error", err)
		} else {
			log.Info("Released delivery claim after failed replies", "message_id", messageID)
		}
	}
	return out
}

func (d *Dispatcher) handleMessage(ctx context.Context, log *slog.Logger, ev domain.InboundEvent) Outcome {
	out := Outcome{Path: PathText}
	if msg, ok := ev.Payload.(domain.TextMessage); ok {
		log.Info("Received message", "message_id", msg.MessageID, "text", msg.Text, "timestamp", ev.Timestamp)
	}

	stop, err := ExtractStopID(ev)
	if err != nil {
		var rejection *Error
		if errors.As(err, &rejection) {
			out.Rejection = rejection.Code
		}
		log.Info("Non bus stop number received, requested bus stop number", "reason", err)
		d.send(ctx, log, &out, ev.SenderID, []string{HelpText})
		return out
	}
	out.StopID = stop
	log.Debug("Parsed stop number", "stop_id", stop)

	result := d.transit.Query(ctx, stop)
	switch r := result.(type) {
	case domain.TransportFailure:
		log.Error("Unable to reach RTPI system", "stop_id", stop, "error", r.Cause)
	case domain.UpstreamError:
		log.Warn("RTPI reported an error", "stop_id", stop, "code", r.Code, "message", r.Message)
	case domain.Records:
		log.Info("Bus stop information retrieved", "stop_id", stop, "arrivals", len(r.Arrivals))
	}

	d.send(ctx, log, &out, ev.SenderID, FormatArrivals(result))
	return out
}

func (d *Dispatcher) send(ctx context.Context, log *slog.Logger, out *Outcome, recipientID string, texts []string) {
	for _, text := range texts {
		if err := d.sender.Send(ctx, recipientID, text); err != nil {
			out.Failed++
			log.Error("Unable to send message", "error", err)
			continue
		}
		out.Sent++
	}
}

// claim marks messageID in the ledger. claimed is true when this call owns
// the id; duplicate when an earlier delivery already did. Ledger errors leave
// both false and the message is processed anyway.
func (d *Dispatcher) claim(ctx context.Context, log *slog.Logger, messageID string) (claimed, duplicate bool) {
	if d.ledger == nil || messageID == "" {
		return false, false
	}
	first, err := d.ledger.MarkProcessed(ctx, messageID)
	if err != nil {
		log.Warn("Delivery ledger unavailable, processing anyway", "message_id", messageID, "error", err)
		return false, false
	}
	if !first {
		log.Info("Skipping redelivered message", "message_id", messageID)
		return false, true
	}
	return true, false
}
