package transport

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// ChunkKind tags an inbound [Chunk].
type ChunkKind int

const (
	// ChunkAudio carries synthesized speech as int16 PCM.
	ChunkAudio ChunkKind = iota

	// ChunkText carries a fragment of response text.
	ChunkText

	// ChunkDone marks the end of a text response.
	ChunkDone

	// ChunkError carries a bot-reported failure; Text holds the reason.
	ChunkError
)

// String returns the lower-case name of the kind, used as a metric attribute.
func (k ChunkKind) String() string {
	switch k {
	case ChunkAudio:
		return "audio"
	case ChunkText:
		return "text"
	case ChunkDone:
		return "done"
	case ChunkError:
		return "error"
	}
	return "unknown"
}

// Chunk is one unit received from the voice bot, delivered in arrival order.
type Chunk struct {
	Kind  ChunkKind
	Audio []byte
	Text  string
}

// Control is an outbound JSON control message.
type Control struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Transcript returns the control message announcing a finalized utterance.
func Transcript(text string) Control {
	return Control{Type: "transcript", Text: text}
}

// inboundMessage is the JSON shape of text frames from the bot:
// {"type":"chunk"|"text"|"done"|"error","chunk"?,"text"?,"reason"?}.
type inboundMessage struct {
	Type   string `json:"type"`
	Chunk  string `json:"chunk,omitempty"`
	Text   string `json:"text,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// decodeText converts a text frame into a chunk. Payloads that are not JSON
// objects are raw text chunks. Recognised JSON with an unknown type is
// dropped and reported as !ok.
func decodeText(data []byte) (Chunk, bool) {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "{") {
		return Chunk{Kind: ChunkText, Text: string(data)}, true
	}
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Chunk{Kind: ChunkText, Text: string(data)}, true
	}
	switch msg.Type {
	case "chunk":
		return Chunk{Kind: ChunkText, Text: firstNonEmpty(msg.Chunk, msg.Text)}, true
	case "text":
		return Chunk{Kind: ChunkText, Text: firstNonEmpty(msg.Text, msg.Chunk)}, true
	case "done":
		return Chunk{Kind: ChunkDone}, true
	case "error":
		reason := firstNonEmpty(msg.Reason, msg.Text)
		if reason == "" {
			reason = "unspecified bot error"
		}
		return Chunk{Kind: ChunkError, Text: reason}, true
	}
	slog.Debug("transport: dropping unknown message type", "type", msg.Type)
	return Chunk{}, false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
