// ABOUTME: HTTP client for the A2A gateway: discovery, message/send and
// ABOUTME: message/stream, with typed errors per failure class.

package protocol

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parley-sh/parley/internal/conversation"
)

const (
	methodSend   = "message/send"
	methodStream = "message/stream"

	discoveryPath = "/.well-known/agents.json"

	defaultTimeout = 30 * time.Second
)

// Client speaks the agent-to-agent protocol against one gateway base URL.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Client for the given gateway base URL. The httpClient must
// not set Client.Timeout (it would cut streams short); non-streaming calls
// get a per-request deadline of timeout instead. Zero values fall back to
// defaults.
func New(baseURL string, httpClient *http.Client, timeout time.Duration, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		timeout: timeout,
		logger:  logger.With("component", "protocol"),
	}
}

// SendResult is the outcome of one synchronous message/send call.
type SendResult struct {
	Parts     []conversation.Part
	ContextID string
}

// Discover fetches the gateway's agent cards. A non-success status is
// reported as *HTTPError, consistent with the client's other calls;
// *ProtocolError is reserved for a well-formed response whose body is
// malformed or carries an error.
func (c *Client) Discover(ctx context.Context) ([]AgentCard, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+discoveryPath, nil)
	if err != nil {
		return nil, fmt.Errorf("creating discovery request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "discovery", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Status: resp.StatusCode}
	}

	var cards []AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&cards); err != nil {
		return nil, &ProtocolError{Message: fmt.Sprintf("malformed discovery document: %v", err)}
	}

	c.logger.Debug("discovered agents", "count", len(cards))
	return cards, nil
}

// SendOnce issues one synchronous message/send call and returns the agent's
// parts plus the context identifier the server scoped them to.
func (c *Client) SendOnce(ctx context.Context, agentID, text, contextID string) (*SendResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := c.postRPC(ctx, agentID, methodSend, text, contextID, "")
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var rpc rpcResponse
	if err := json.NewDecoder(body).Decode(&rpc); err != nil {
		return nil, &ProtocolError{Message: fmt.Sprintf("malformed response envelope: %v", err)}
	}
	if rpc.Error != nil {
		return nil, &ProtocolError{Code: rpc.Error.Code, Message: rpc.Error.Message, Data: []byte(rpc.Error.Data)}
	}
	if len(rpc.Result) == 0 {
		return nil, &ProtocolError{Message: "response carried no result"}
	}

	var result struct {
		Parts     []wirePart `json:"parts"`
		ContextID string     `json:"contextId"`
	}
	if err := json.Unmarshal(rpc.Result, &result); err != nil {
		return nil, &ProtocolError{Message: fmt.Sprintf("malformed result: %v", err)}
	}

	return &SendResult{
		Parts:     domainParts(result.Parts),
		ContextID: result.ContextID,
	}, nil
}

// OpenStream issues a message/stream call and returns the open Stream. The
// returned stream owns the response body; consume its Events channel until
// it closes, or call Cancel.
func (c *Client) OpenStream(ctx context.Context, agentID, text, contextID string) (*Stream, error) {
	sctx, cancel := context.WithCancel(ctx)

	body, err := c.postRPC(sctx, agentID, methodStream, text, contextID, "text/event-stream")
	if err != nil {
		cancel()
		return nil, err
	}

	s := &Stream{
		events: make(chan Event, 16),
		ctx:    sctx,
		cancel: cancel,
		body:   body,
		logger: c.logger,
	}
	go s.run()
	return s, nil
}

// postRPC builds the JSON-RPC envelope for a turn and performs the POST,
// returning the open response body after status checks.
func (c *Client) postRPC(ctx context.Context, agentID, method, text, contextID, accept string) (io.ReadCloser, error) {
	payload := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		ID:      uuid.New().String(),
		Params: rpcParams{
			Message: wireMessage{
				Kind:      "message",
				MessageID: uuid.New().String(),
				Role:      "user",
				ContextID: contextID,
				Parts:     textParts(text),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/agents/%s/", c.baseURL, agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	c.logger.Debug("sending turn", "method", method, "agent_id", agentID, "context_id", contextID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: method, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &HTTPError{Status: resp.StatusCode}
	}
	return resp.Body, nil
}
