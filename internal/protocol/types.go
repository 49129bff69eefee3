// ABOUTME: Wire types for the A2A JSON-RPC protocol: agent cards, envelopes,
// ABOUTME: messages, and the streamed event payloads.

package protocol

import (
	stdjson "encoding/json"

	jsoniter "github.com/json-iterator/go"

	"github.com/parley-sh/parley/internal/conversation"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AgentCard is one entry of the gateway's /.well-known/agents.json document.
type AgentCard struct {
	Name            string       `json:"name"`
	Description     string       `json:"description,omitempty"`
	URL             string       `json:"url"`
	Version         string       `json:"version,omitempty"`
	ProtocolVersion string       `json:"protocolVersion,omitempty"`
	Capabilities    Capabilities `json:"capabilities"`
	Skills          []Skill      `json:"skills,omitempty"`
}

// Capabilities are the capability flags an agent declares on its card.
type Capabilities struct {
	Streaming              bool `json:"streaming"`
	PushNotifications      bool `json:"pushNotifications"`
	StateTransitionHistory bool `json:"stateTransitionHistory"`
}

// Skill describes one declared agent skill.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// rpcRequest is the JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	ID      string    `json:"id"`
	Params  rpcParams `json:"params"`
}

type rpcParams struct {
	Message wireMessage `json:"message"`
}

// rpcResponse is the JSON-RPC 2.0 response envelope. Result stays raw so the
// caller can interpret it per method.
type rpcResponse struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      jsoniter.RawMessage `json:"id,omitempty"`
	Result  jsoniter.RawMessage `json:"result,omitempty"`
	Error   *rpcError           `json:"error,omitempty"`
}

type rpcError struct {
	Code    int                 `json:"code"`
	Message string              `json:"message"`
	Data    jsoniter.RawMessage `json:"data,omitempty"`
}

// wireMessage is the protocol message shape used in params and nested in
// status-update events.
type wireMessage struct {
	Kind      string     `json:"kind,omitempty"`
	MessageID string     `json:"messageId,omitempty"`
	Role      string     `json:"role,omitempty"`
	ContextID string     `json:"contextId,omitempty"`
	Parts     []wirePart `json:"parts,omitempty"`
}

// wirePart is the tagged wire form of a content part.
type wirePart struct {
	Kind string              `json:"kind"`
	Text string              `json:"text,omitempty"`
	Type string              `json:"type,omitempty"`
	Data jsoniter.RawMessage `json:"data,omitempty"`
}

// wireEvent is a decoded streamed domain event after envelope unwrapping.
// Kind selects which fields are meaningful.
type wireEvent struct {
	Kind      string        `json:"kind"`
	ContextID string        `json:"contextId,omitempty"`
	Status    *wireStatus   `json:"status,omitempty"`
	Artifact  *wireArtifact `json:"artifact,omitempty"`
	Parts     []wirePart    `json:"parts,omitempty"`
}

type wireStatus struct {
	State   string       `json:"state"`
	Message *wireMessage `json:"message,omitempty"`
}

type wireArtifact struct {
	ArtifactID string     `json:"artifactId,omitempty"`
	Parts      []wirePart `json:"parts,omitempty"`
}

// Task states carried by status-update events.
const (
	stateSubmitted = "submitted"
	stateWorking   = "working"
	stateCompleted = "completed"
	stateCanceled  = "canceled"
	stateFailed    = "failed"
)

// domainParts converts wire parts to the domain part union. Unknown part
// kinds are dropped.
func domainParts(in []wirePart) []conversation.Part {
	out := make([]conversation.Part, 0, len(in))
	for _, p := range in {
		switch p.Kind {
		case "text":
			out = append(out, conversation.TextPart{Text: p.Text})
		case "data":
			typ := p.Type
			if typ == "" {
				typ = "data"
			}
			out = append(out, conversation.DataPart{Type: typ, Payload: stdjson.RawMessage(p.Data)})
		}
	}
	return out
}

// textParts wraps plain text as a single-part wire slice.
func textParts(text string) []wirePart {
	return []wirePart{{Kind: "text", Text: text}}
}
