// democlient creates a demo session, connects to it through the reconnecting
// client and prints every event until the simulation completes or the
// process is interrupted.
//
// Usage: go run ./cmd/democlient --server http://localhost:8080 --demo sales
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/bhardin04/livedemo/internal/client"
	"github.com/bhardin04/livedemo/internal/domain"
	"github.com/bhardin04/livedemo/internal/platform/logging"
	"github.com/bhardin04/livedemo/internal/platform/retry"
)

type createSessionResponse struct {
	SessionID    string `json:"sessionId"`
	DemoType     string `json:"demoType"`
	TTLSeconds   int    `json:"ttlSeconds"`
	WebsocketURL string `json:"websocketUrl"`
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// Server errors are worth another attempt; client errors are not.
func classifyCreate(err error) retry.Action {
	var se *statusError
	if errors.As(err, &se) && se.code < http.StatusInternalServerError {
		return retry.Stop
	}
	return retry.Retry
}

func createSession(ctx context.Context, httpClient *http.Client, serverURL, demo string) (createSessionResponse, error) {
	body, err := json.Marshal(map[string]string{"demoType": demo})
	if err != nil {
		return createSessionResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/api/sessions", bytes.NewReader(body))
	if err != nil {
		return createSessionResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return createSessionResponse{}, fmt.Errorf("create session: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		var raw bytes.Buffer
		_, _ = raw.ReadFrom(resp.Body)
		return createSessionResponse{}, &statusError{code: resp.StatusCode, body: raw.String()}
	}

	var out createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return createSessionResponse{}, fmt.Errorf("decode session: %w", err)
	}
	return out, nil
}

func printMessage(data []byte, verbose bool) {
	var env struct {
		Type       string `json:"type"`
		UpdateType string `json:"update_type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		fmt.Printf("[raw] %s\n", data)
		return
	}
	if verbose || !isUpdate(env.Type) {
		fmt.Printf("[%s] %s\n", env.Type, data)
		return
	}
	fmt.Printf("[%s] %s (%d bytes)\n", env.Type, env.UpdateType, len(data))
}

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "base URL of the demo server")
	demo := flag.String("demo", string(domain.DemoSales), "demo type: payment, sales or logistics")
	interval := flag.Duration("interval", 0, "simulation tick interval (0 uses the demo default)")
	seed := flag.Int64("seed", 0, "simulation seed (0 picks a random seed)")
	verbose := flag.Bool("verbose", false, "print full update payloads")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger := logging.New(os.Stderr, *logLevel, "text")
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	httpClient := &http.Client{Timeout: 10 * time.Second}
	policy := retry.Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     5 * time.Second,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			logger.Warn("create session failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	sess, err := retry.Do(ctx, policy, classifyCreate, func(ctx context.Context) (createSessionResponse, error) {
		return createSession(ctx, httpClient, *serverURL, *demo)
	})
	if err != nil {
		logger.Error("failed to create session", "error", err)
		os.Exit(1)
	}
	logger.Info("session created", "session_id", sess.SessionID, "demo_type", sess.DemoType, "ttl_seconds", sess.TTLSeconds)

	var mgr *client.Manager
	onState := func(change client.StateChange) {
		attrs := []any{"from", change.From.String(), "to", change.To.String()}
		if change.Attempt > 0 {
			attrs = append(attrs, "attempt", change.Attempt, "delay", change.Delay)
		}
		if change.Err != nil {
			attrs = append(attrs, "error", change.Err)
		}
		logger.Info("connection state changed", attrs...)

		if change.To == client.StateOpen {
			start := domain.ClientMessage{
				Type:       domain.MsgStartSimulation,
				IntervalMs: int(interval.Milliseconds()),
				Seed:       *seed,
			}
			if err := mgr.SendJSON(start); err != nil {
				logger.Warn("failed to start simulation", "error", err)
			}
		}
	}
	onMessage := func(data []byte) {
		printMessage(data, *verbose)
		if isComplete(data) {
			logger.Info("simulation complete, disconnecting")
			go mgr.Disconnect()
		}
	}

	mgr = client.NewManager(client.Config{URL: sess.WebsocketURL}, client.WebSocketDialer{}, clockwork.NewRealClock(), onState, onMessage)
	if err := mgr.Connect(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
		mgr.Disconnect()
		<-mgr.Done()
	case <-mgr.Done():
	}

	if mgr.State() == client.StateFailed {
		os.Exit(1)
	}
}

func isComplete(data []byte) bool {
	var msg struct {
		Type       string `json:"type"`
		UpdateType string `json:"update_type"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return false
	}
	return isUpdate(msg.Type) && msg.UpdateType == domain.UpdateComplete
}

// Simulated data arrives as "<demo>_update" events.
func isUpdate(msgType string) bool { return strings.HasSuffix(msgType, "_update") }
