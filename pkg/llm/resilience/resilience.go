// Package resilience 为外部模型服务调用提供重试与熔断保护。
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kart-io/logger"
)

// RetryConfig 重试配置。
type RetryConfig struct {
	// MaxAttempts 最大尝试次数，包括首次调用。
	MaxAttempts int
	// InitialDelay 首次重试前的延迟。
	InitialDelay time.Duration
	// MaxDelay 重试延迟上限。
	MaxDelay time.Duration
	// Multiplier 每次重试后的延迟倍增因子。
	Multiplier float64
	// RetryableErrors 判断错误是否可重试。为 nil 时所有错误都重试。
	RetryableErrors func(error) bool
}

// DefaultRetryConfig 返回默认重试配置。
// 嵌入与对话请求本身耗时较长，延迟上限压在 5 秒以内。
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// CircuitBreakerConfig 熔断器配置。
type CircuitBreakerConfig struct {
	// MaxFailures 连续失败达到该次数时打开熔断器。
	MaxFailures int
	// Timeout 打开状态持续该时长后进入半开状态。
	Timeout time.Duration
	// HalfOpenMaxCalls 半开状态允许的探测调用数。
	HalfOpenMaxCalls int
}

// DefaultCircuitBreakerConfig 返回默认熔断器配置。
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// CircuitBreakerState 熔断器状态。
type CircuitBreakerState int

const (
	// StateClosed 正常放行。
	StateClosed CircuitBreakerState = iota
	// StateOpen 拒绝所有调用。
	StateOpen
	// StateHalfOpen 放行少量探测调用。
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitBreakerOpen 熔断器打开时返回的错误。
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// CircuitBreaker 按连续失败次数熔断下游调用。
type CircuitBreaker struct {
	config *CircuitBreakerConfig

	mu                sync.Mutex
	state             CircuitBreakerState
	failures          int
	openedAt          time.Time
	halfOpenCalls     int
	halfOpenSuccesses int
}

// NewCircuitBreaker 创建熔断器。
func NewCircuitBreaker(config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}
	return &CircuitBreaker{config: config, state: StateClosed}
}

// Execute 通过熔断器执行 fn。打开状态下直接返回 ErrCircuitBreakerOpen。
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

// admit 判断当前状态是否放行本次调用。
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(cb.openedAt) <= cb.config.Timeout {
			return ErrCircuitBreakerOpen
		}
		logger.Infow("circuit breaker half-open, probing")
		cb.state = StateHalfOpen
		cb.halfOpenCalls = 1
		cb.halfOpenSuccesses = 0
		return nil

	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.config.HalfOpenMaxCalls {
			return ErrCircuitBreakerOpen
		}
		cb.halfOpenCalls++
		return nil
	}
	return ErrCircuitBreakerOpen
}

// record 根据调用结果推进状态机。
func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		switch cb.state {
		case StateClosed:
			cb.failures = 0
		case StateHalfOpen:
			cb.halfOpenSuccesses++
			// 探测调用全部成功后恢复放行
			if cb.halfOpenSuccesses >= cb.halfOpenCalls {
				logger.Infow("circuit breaker closed")
				cb.state = StateClosed
				cb.failures = 0
			}
		}
		return
	}

	cb.failures++
	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			logger.Warnw("circuit breaker opened", "failures", cb.failures)
			cb.trip()
		}
	case StateHalfOpen:
		logger.Warnw("circuit breaker re-opened after failed probe")
		cb.trip()
	}
}

// trip 打开熔断器并记录时间点。调用方持有锁。
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = time.Now()
}

// State 返回当前状态。
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset 强制恢复到关闭状态。
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.halfOpenCalls = 0
	cb.halfOpenSuccesses = 0
}

// RetryWithBackoff 以指数退避重试 fn，直到成功、不可重试或尝试耗尽。
// 上下文取消会中断重试等待。
func RetryWithBackoff(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	delay := config.InitialDelay
	var lastErr error

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if config.RetryableErrors != nil && !config.RetryableErrors(err) {
			logger.Debugw("error is not retryable", "error", err.Error())
			return err
		}
		if attempt >= config.MaxAttempts {
			logger.Warnw("retry attempts exhausted", "attempts", attempt, "error", err.Error())
			return fmt.Errorf("max retry attempts (%d) reached: %w", config.MaxAttempts, lastErr)
		}

		logger.Debugw("retrying after delay", "attempt", attempt, "delay", delay, "error", err.Error())
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay = time.Duration(float64(delay) * config.Multiplier)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}
}

// RetryWithCircuitBreaker 将每次重试尝试都经过熔断器执行。
func RetryWithCircuitBreaker(
	ctx context.Context,
	retryConfig *RetryConfig,
	cb *CircuitBreaker,
	fn func() error,
) error {
	return RetryWithBackoff(ctx, retryConfig, func() error {
		return cb.Execute(fn)
	})
}
