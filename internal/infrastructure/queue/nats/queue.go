package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/doc-converter/internal/core/domain"
	"github.com/kirillkom/doc-converter/internal/core/ports"
	"github.com/kirillkom/doc-converter/internal/infrastructure/resilience"
)

const defaultQueueGroup = "converters"

var (
	_ ports.SubmissionQueue = (*Queue)(nil)
	_ ports.JobNotifier     = (*Queue)(nil)
)

// Queue takes batch submissions from one subject and publishes finished job
// snapshots on another.
type Queue struct {
	conn          *nats.Conn
	submitSubject string
	resultSubject string
	queueGroup    string
	executor      *resilience.Executor
}

type Options struct {
	SubmitSubject        string
	ResultSubject        string
	QueueGroup           string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url string, options Options) (*Queue, error) {
	if options.SubmitSubject == "" {
		return nil, errors.New("nats: submit subject is required")
	}
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	queueGroup := options.QueueGroup
	if queueGroup == "" {
		queueGroup = defaultQueueGroup
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("doc-converter"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:          conn,
		submitSubject: options.SubmitSubject,
		resultSubject: options.ResultSubject,
		queueGroup:    queueGroup,
		executor:      options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

type submissionReply struct {
	JobID string `json:"job_id,omitempty"`
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// SubscribeSubmissions blocks until ctx is cancelled, then drains the
// subscription. Requests carrying a reply subject get the job id or the
// rejection reason back.
func (q *Queue) SubscribeSubmissions(ctx context.Context, handler ports.SubmissionHandler) error {
	sub, err := q.conn.QueueSubscribe(q.submitSubject, q.queueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		reply := handleSubmission(ctx, msg.Data, handler)
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(reply); err != nil {
			slog.Warn("submission_reply_failed", "subject", msg.Reply, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func handleSubmission(ctx context.Context, data []byte, handler ports.SubmissionHandler) []byte {
	var sub ports.Submission
	var reply submissionReply
	if err := json.Unmarshal(data, &sub); err != nil {
		slog.Warn("submission_decode_failed", "error", err)
		reply = submissionReply{Error: err.Error(), Kind: errorKind(domain.ErrInvalidInput)}
	} else if jobID, err := handler(ctx, sub); err != nil {
		slog.Warn("submission_rejected", "request_id", sub.RequestID, "items", len(sub.Items), "error", err)
		reply = submissionReply{Error: err.Error(), Kind: errorKind(err)}
	} else {
		slog.Info("submission_accepted", "request_id", sub.RequestID, "job_id", jobID, "items", len(sub.Items))
		reply = submissionReply{JobID: jobID}
	}
	out, _ := json.Marshal(reply)
	return out
}

type jobFinishedEvent struct {
	Job              domain.BatchJob     `json:"job"`
	Results          []domain.ItemResult `json:"results,omitempty"`
	ResultsTruncated bool                `json:"results_truncated,omitempty"`
}

// JobFinished publishes the terminal snapshot. Results are dropped from the
// event when it would exceed the server's max payload.
func (q *Queue) JobFinished(ctx context.Context, job domain.BatchJob, results []domain.ItemResult) error {
	if q.resultSubject == "" {
		return nil
	}
	payload, err := encodeJobFinished(job, results, q.conn.MaxPayload())
	if err != nil {
		return err
	}

	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.resultSubject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

func encodeJobFinished(job domain.BatchJob, results []domain.ItemResult, maxPayload int64) ([]byte, error) {
	payload, err := json.Marshal(jobFinishedEvent{Job: job, Results: results})
	if err != nil {
		return nil, fmt.Errorf("encode job event: %w", err)
	}
	if maxPayload <= 0 || int64(len(payload)) <= maxPayload {
		return payload, nil
	}
	payload, err = json.Marshal(jobFinishedEvent{Job: job, ResultsTruncated: true})
	if err != nil {
		return nil, fmt.Errorf("encode job event: %w", err)
	}
	return payload, nil
}
