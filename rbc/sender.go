package rbc

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/alienlienn/iot-smartbin/metrics"
)

// Sink receives published snapshots.
type Sink interface {
	Name() string
	Kind() string
	Send(ctx context.Context, body []byte) error
}

// HTTPSink POSTs each snapshot to a dashboard endpoint. There is no retry;
// the next publish carries fresh data.
type HTTPSink struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

func NewHTTPSink(url string, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = DefaultPostTimeout
	}
	return &HTTPSink{url: url, timeout: timeout, client: &http.Client{}}
}

func (s *HTTPSink) Name() string { return s.url }
func (s *HTTPSink) Kind() string { return SinkHTTP }

func (s *HTTPSink) Send(ctx context.Context, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", ContentTypeJSON)
	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "posting to %s", s.url)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("%s answered %s", s.url, resp.Status)
	}
	return nil
}

// Broadcaster fans a message out to connected clients.
type Broadcaster interface {
	Broadcast(msg []byte)
}

// BroadcastSink hands snapshots to an in-process hub.
type BroadcastSink struct {
	name string
	hub  Broadcaster
}

func NewBroadcastSink(name string, hub Broadcaster) *BroadcastSink {
	return &BroadcastSink{name: name, hub: hub}
}

func (s *BroadcastSink) Name() string { return s.name }
func (s *BroadcastSink) Kind() string { return SinkHub }

func (s *BroadcastSink) Send(_ context.Context, body []byte) error {
	s.hub.Broadcast(body)
	return nil
}

// Sender pushes a body to every sink. Failures are logged and counted,
// never returned.
type Sender struct {
	sinks   []Sink
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewSender(logger *zap.Logger, m *metrics.Metrics) *Sender {
	return &Sender{logger: logger.Named("sender"), metrics: m}
}

func (s *Sender) AddSink(sink Sink) {
	s.sinks = append(s.sinks, sink)
}

func (s *Sender) Sinks() int { return len(s.sinks) }

// Send delivers body to each sink in turn and returns how many accepted it.
func (s *Sender) Send(ctx context.Context, body []byte) int {
	delivered := 0
	for _, sink := range s.sinks {
		if err := sink.Send(ctx, body); err != nil {
			s.logger.Warn("Publish failed", zap.String("sink", sink.Name()), zap.Error(err))
			s.metrics.Publish.WithLabelValues(sink.Kind(), metrics.ResultError).Inc()
			continue
		}
		s.metrics.Publish.WithLabelValues(sink.Kind(), metrics.ResultOK).Inc()
		delivered++
	}
	return delivered
}
