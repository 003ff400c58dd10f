package inference

import (
	"context"
	"time"

	"github.com/turtacn/abcflow/internal/domain/run"
	"github.com/turtacn/abcflow/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/abcflow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/abcflow/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/abcflow/pkg/errors"
)

// NewRequestHandler returns the consumer handler for inference.requested
// events.
//
// A request whose run reached a terminal state is acknowledged even when the
// run failed: the failure is already recorded and published.  Redelivered
// requests (run already stored or locked elsewhere) are acknowledged as
// well.  Everything else is returned so the consumer retries it and finally
// dead-letters it.
func NewRequestHandler(svc Service, metrics *prometheus.ServiceMetrics, log logging.Logger) kafka.MessageHandler {
	if log == nil {
		log = logging.NewNopLogger()
	}
	log = log.Named("request-handler")

	return func(ctx context.Context, msg *kafka.Message) (err error) {
		start := time.Now()
		defer func() { metrics.RecordMessage(msg.Topic, err, time.Since(start)) }()

		env, err := kafka.MessageToEventEnvelope(msg)
		if err != nil {
			return err
		}
		if env.EventType != kafka.EventInferenceRequested {
			log.Debug("ignoring event", logging.String("event_type", env.EventType))
			return nil
		}
		var p kafka.InferenceRequestedPayload
		if err := env.DecodePayload(&p); err != nil {
			return err
		}

		method := run.Method(p.Method)
		if method == "" {
			method = run.MethodRejection
		}
		r, err := svc.Run(ctx, method, RunRequest{
			RunID:       p.RunID,
			NumSamples:  p.NumSamples,
			BatchSize:   p.BatchSize,
			Epsilon:     p.Epsilon,
			Epsilons:    p.Epsilons,
			Populations: p.Populations,
			Seed:        p.Seed,
			Observed:    p.Observed,
		})
		switch {
		case err == nil:
			return nil
		case r != nil:
			log.Warn("run ended with error",
				logging.String("run_id", r.ID),
				logging.String("status", string(r.Status)),
				logging.Err(err))
			return nil
		case errors.IsCode(err, errors.ErrCodeConflict), errors.IsCode(err, errors.ErrCodeLockNotAcquired):
			log.Info("skipping duplicate request", logging.String("run_id", p.RunID), logging.Err(err))
			return nil
		default:
			return err
		}
	}
}

//Personal.AI order the ending
