package relay

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"crabstack.local/crab-relay/internal/logging"
	"crabstack.local/crab-relay/internal/session"
)

// Deliverer sends reply text to a channel.
type Deliverer interface {
	Deliver(ctx context.Context, channelID, text string) error
}

// Service fans inbound messages out to one worker per session key, so every
// key sees its messages handled and answered in receipt order.
type Service struct {
	logger     *logrus.Logger
	controller *Controller
	deliverer  Deliverer
	scheduler  *session.Scheduler[Inbound]
}

type ServiceOptions struct {
	QueueSize  int
	WorkerIdle time.Duration
}

func NewService(logger *logrus.Logger, controller *Controller, deliverer Deliverer, opts ServiceOptions) (*Service, error) {
	if controller == nil {
		return nil, errors.New("controller is required")
	}
	if deliverer == nil {
		return nil, errors.New("deliverer is required")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	svc := &Service{
		logger:     logger,
		controller: controller,
		deliverer:  deliverer,
	}
	svc.scheduler = session.NewScheduler(logger, opts.QueueSize, opts.WorkerIdle, svc.process)
	return svc, nil
}

// Accept queues in for its session key. It returns session.ErrSessionQueueFull
// when that key already has a full backlog.
func (s *Service) Accept(ctx context.Context, in Inbound) error {
	if in.SenderIsBot {
		return nil
	}
	return s.scheduler.Enqueue(ctx, s.controller.SessionKey(in), in)
}

func (s *Service) Close(ctx context.Context) error {
	return s.scheduler.Close(ctx)
}

func (s *Service) process(ctx context.Context, in Inbound) {
	reply := s.controller.Handle(ctx, in)
	if reply.Action == ActionNone || reply.Text == "" {
		return
	}
	if err := s.deliverer.Deliver(ctx, in.ChannelID, reply.Text); err != nil {
		s.logger.WithFields(logrus.Fields{
			"channel_id": in.ChannelID,
			"message_id": in.MessageID,
			"action":     reply.Action,
		}).WithError(err).Error("reply delivery failed")
	}
}
