// Package camunda connects to the Zeebe gateway and registers job workers.
package camunda

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"

	"research-agent/internal/common/config"
	"research-agent/internal/common/errors"
	"research-agent/internal/common/logger"
)

// Client wraps the Zeebe gRPC client.
type Client struct {
	client         zbc.Client
	requestTimeout time.Duration
	logger         logger.Logger
}

// RetryConfig bounds the connection attempts made by Connect.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

var DefaultRetryConfig = RetryConfig{
	MaxRetries: 10,
	BaseDelay:  2 * time.Second,
	MaxDelay:   30 * time.Second,
}

// Connect dials the gateway and waits until a topology request succeeds. Only
// transient failures are retried.
func Connect(ctx context.Context, cfg config.CamundaConfig, retry RetryConfig, log logger.Logger) (*Client, error) {
	zeebeClient, err := zbc.NewClient(&zbc.ClientConfig{
		GatewayAddress:         cfg.BrokerAddress,
		UsePlaintextConnection: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Zeebe client: %w", err)
	}

	c := &Client{
		client:         zeebeClient,
		requestTimeout: config.GetDuration(cfg.RequestTimeout),
		logger:         log.With(map[string]interface{}{"component": "zeebe"}),
	}

	for attempt := 0; ; attempt++ {
		err = c.HealthCheck(ctx)
		if err == nil {
			c.logger.Info("Zeebe client connected", map[string]interface{}{
				"gateway":  cfg.BrokerAddress,
				"attempts": attempt + 1,
			})
			return c, nil
		}
		if !isRetryableZeebeError(err) || attempt >= retry.MaxRetries {
			_ = zeebeClient.Close()
			return nil, mapZeebeError(err, cfg.BrokerAddress, attempt)
		}

		delay := backoff(retry, attempt)
		c.logger.Warn("Zeebe connection failed, retrying...", map[string]interface{}{
			"attempt":       attempt + 1,
			"maxRetries":    retry.MaxRetries,
			"nextRetryInMs": delay.Milliseconds(),
			"error":         err.Error(),
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			_ = zeebeClient.Close()
			return nil, fmt.Errorf("zeebe connect cancelled after %d attempts: %w", attempt+1, ctx.Err())
		}
	}
}

// Zeebe returns the raw client for worker registration.
func (c *Client) Zeebe() zbc.Client {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}

// HealthCheck sends a topology request to the gateway.
func (c *Client) HealthCheck(ctx context.Context) error {
	timeout := c.requestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := c.client.NewTopologyCommand().Send(ctx)
	return err
}

func backoff(retry RetryConfig, attempt int) time.Duration {
	if attempt > 30 {
		return retry.MaxDelay
	}
	delay := retry.BaseDelay * time.Duration(1<<attempt)
	if delay <= 0 || delay > retry.MaxDelay {
		delay = retry.MaxDelay
	}
	return delay
}

func isRetryableZeebeError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, phrase := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"deadline exceeded",
		"unavailable",
		"unreachable",
		"broken pipe",
	} {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// mapZeebeError converts gateway failures into the shared error taxonomy.
func mapZeebeError(err error, gateway string, attempt int) error {
	lower := strings.ToLower(err.Error())
	wrapped := fmt.Errorf("after %d attempts: %w", attempt+1, err)
	if strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded") {
		return errors.NewTimeoutError("zeebe topology", 0, wrapped)
	}
	return errors.NewNetworkError(gateway, wrapped)
}
