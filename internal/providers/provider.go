package providers

import "context"

// Protocol names the wire shape chosen for a session.
type Protocol string

const (
	ProtocolLegacy    Protocol = "legacy"
	ProtocolResponses Protocol = "responses"
)

// Provider is the minimal surface every adapter exposes. Concrete
// capabilities are advertised through the interfaces below; a provider must
// implement at least one completer or streamer.
type Provider interface {
	Name() string
}

// LegacyCompleter speaks the chat-completions shape without streaming.
type LegacyCompleter interface {
	Provider
	CompleteLegacy(ctx context.Context, req *LegacyRequest) (*ModelOutput, error)
}

// LegacyStreamer speaks the chat-completions shape with streaming.
type LegacyStreamer interface {
	Provider
	StreamLegacy(ctx context.Context, req *LegacyRequest) (<-chan StreamEvent, error)
}

// ResponsesCompleter speaks the server-threaded responses shape without
// streaming.
type ResponsesCompleter interface {
	Provider
	CompleteResponses(ctx context.Context, req *ResponsesRequest) (*ModelOutput, error)
}

// ResponsesStreamer speaks the server-threaded responses shape with
// streaming.
type ResponsesStreamer interface {
	Provider
	StreamResponses(ctx context.Context, req *ResponsesRequest) (<-chan StreamEvent, error)
}

// DetectProtocol inspects a provider's capability set once at session
// start. Providers speaking both shapes default to responses.
func DetectProtocol(p Provider) Protocol {
	switch p.(type) {
	case ResponsesCompleter, ResponsesStreamer:
		return ProtocolResponses
	default:
		return ProtocolLegacy
	}
}

// SupportsStreaming reports whether the provider can stream under the given
// protocol. The runtime prefers streaming when available.
func SupportsStreaming(p Provider, protocol Protocol) bool {
	if protocol == ProtocolResponses {
		_, ok := p.(ResponsesStreamer)
		return ok
	}
	_, ok := p.(LegacyStreamer)
	return ok
}
