package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	appmetrics "deskify/internal/metrics"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrCircuitOpen 目标主机处于熔断状态，本次调用被拒绝
var ErrCircuitOpen = errors.New("webhook circuit open")

// WebhookService 执行 webhook 动作的出站 HTTP 调用。
// 每个目标主机一个熔断器，连续失败后快速拒绝，避免规则执行被慢端点拖垮。
type WebhookService struct {
	client   *http.Client
	breakers map[string]*CircuitBreaker
	breaker  BreakerConfig
	mu       sync.Mutex
	logger   *logrus.Logger
	tracer   trace.Tracer
}

// NewWebhookService 创建 webhook 服务，timeout 为单次调用超时
func NewWebhookService(timeout time.Duration, logger *logrus.Logger) *WebhookService {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &WebhookService{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breakers: make(map[string]*CircuitBreaker),
		breaker:  DefaultBreakerConfig(),
		logger:   logger,
		tracer:   otel.Tracer("deskify.webhook"),
	}
}

// Call 发送 JSON 载荷并返回响应状态码。传输错误和 5xx 计入熔断器失败。
func (s *WebhookService) Call(ctx context.Context, method, rawURL string, payload map[string]any) (int, error) {
	ctx, span := s.tracer.Start(ctx, "webhook.call")
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("webhook.url", rawURL),
	)

	target, err := url.Parse(rawURL)
	if err != nil || target.Host == "" {
		return 0, fmt.Errorf("invalid webhook url %q", rawURL)
	}

	cb := s.breakerFor(target.Host)
	if !cb.Allow() {
		appmetrics.IncWebhookCall(false)
		span.RecordError(ErrCircuitOpen)
		return 0, fmt.Errorf("%s: %w", target.Host, ErrCircuitOpen)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		cb.OnFailure()
		appmetrics.IncWebhookCall(false)
		span.RecordError(err)
		s.logger.Warnf("Webhook %s %s failed: %v", method, rawURL, err)
		return 0, fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 500 {
		cb.OnFailure()
	} else {
		cb.OnSuccess()
	}
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	appmetrics.IncWebhookCall(ok)
	if !ok {
		s.logger.Warnf("Webhook %s %s returned status %d", method, rawURL, resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// BreakerStats 返回各目标主机的熔断器状态，供诊断接口使用
func (s *WebhookService) BreakerStats() map[string]map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]interface{}, len(s.breakers))
	for host, cb := range s.breakers {
		out[host] = cb.Stats()
	}
	return out
}

func (s *WebhookService) breakerFor(host string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[host]; ok {
		return cb
	}
	cb := NewCircuitBreaker(s.breaker)
	s.breakers[host] = cb
	return cb
}
