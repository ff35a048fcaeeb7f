package canonical

import "encoding/json"

// Finish reasons in the canonical (OpenAI) vocabulary.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishToolCalls     = "tool_calls"
	FinishContentFilter = "content_filter"
	FinishError         = "error"
)

type (
	// Usage is the terminal token accounting block. Streamed responses always
	// end with a chunk carrying a non-nil Usage.
	Usage struct {
		PromptTokens       int `json:"prompt_tokens"`
		CompletionTokens   int `json:"completion_tokens"`
		CachedPromptTokens int `json:"cached_prompt_tokens,omitempty"`
		TotalTokens        int `json:"total_tokens"`
		ReasoningTokens    int `json:"reasoning_tokens,omitempty"`
	}

	// ToolCall is a completed tool invocation on an assistant message.
	ToolCall struct {
		ID       string       `json:"id"`
		Type     string       `json:"type"`
		Function ToolCallFunc `json:"function"`
	}

	// ToolCallFunc carries the function name and raw JSON arguments.
	ToolCallFunc struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	}

	// ResponseMessage is the assistant message of a completed choice.
	ResponseMessage struct {
		Role             string     `json:"role"`
		Content          string     `json:"content"`
		ReasoningContent string     `json:"reasoning_content,omitempty"`
		ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
		Images           []string   `json:"images,omitempty"` // base64 data URLs for image output
	}

	// Choice is one completed alternative.
	Choice struct {
		Index        int             `json:"index"`
		Message      ResponseMessage `json:"message"`
		FinishReason string          `json:"finish_reason"`
	}

	// Completion is the canonical non-streaming response. When Stream is
	// non-nil the response is delivered as Chunks instead and the other
	// fields are ignored.
	Completion struct {
		ID        string   `json:"id"`
		Object    string   `json:"object"`
		Created   int64    `json:"created"`
		Model     string   `json:"model"`
		Choices   []Choice `json:"choices"`
		Usage     *Usage   `json:"usage,omitempty"`
		Citations []string `json:"citations,omitempty"`

		Stream <-chan Chunk `json:"-"`
	}

	// Delta is the incremental payload of a streamed chunk.
	Delta struct {
		Role             string          `json:"role,omitempty"`
		Content          string          `json:"content,omitempty"`
		ReasoningContent string          `json:"reasoning_content,omitempty"`
		ToolCalls        []ToolCallDelta `json:"tool_calls,omitempty"`
	}

	// ToolCallDelta is an incremental tool-call update. Index and ID are
	// stable across the updates of one call; Arguments arrive appended.
	ToolCallDelta struct {
		Index    int          `json:"index"`
		ID       string       `json:"id,omitempty"`
		Type     string       `json:"type,omitempty"`
		Function ToolCallFunc `json:"function"`
	}

	// ChunkChoice is one streamed alternative delta.
	ChunkChoice struct {
		Index        int     `json:"index"`
		Delta        Delta   `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	}

	// Chunk is a single canonical streaming event. The last chunk before
	// end-of-stream carries Usage; an Err chunk terminates the stream with
	// finish_reason "error".
	Chunk struct {
		ID        string        `json:"id"`
		Object    string        `json:"object"`
		Created   int64         `json:"created"`
		Model     string        `json:"model"`
		Choices   []ChunkChoice `json:"choices"`
		Usage     *Usage        `json:"usage,omitempty"`
		Citations []string      `json:"citations,omitempty"`

		Err error `json:"-"`
	}
)

// Finalize fills TotalTokens from the component counts when unset.
func (u *Usage) Finalize() {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
}

// NewCompletion builds a single-choice assistant completion.
func NewCompletion(id, model, content, finish string, usage *Usage) *Completion {
	if usage != nil {
		usage.Finalize()
	}
	return &Completion{
		ID:     id,
		Object: "chat.completion",
		Model:  model,
		Choices: []Choice{{
			Message:      ResponseMessage{Role: RoleAssistant, Content: content},
			FinishReason: finish,
		}},
		Usage: usage,
	}
}

// TextChunk builds a content-delta chunk.
func TextChunk(id, model, text string) Chunk {
	return Chunk{
		ID:     id,
		Object: "chat.completion.chunk",
		Model:  model,
		Choices: []ChunkChoice{{
			Delta: Delta{Content: text},
		}},
	}
}

// FinishChunk builds a terminal chunk with the given finish reason and usage.
func FinishChunk(id, model, reason string, usage *Usage) Chunk {
	if usage != nil {
		usage.Finalize()
	}
	return Chunk{
		ID:     id,
		Object: "chat.completion.chunk",
		Model:  model,
		Choices: []ChunkChoice{{
			Delta:        Delta{},
			FinishReason: &reason,
		}},
		Usage: usage,
	}
}

// ErrorChunk builds a terminal error chunk surfaced mid-stream (post
// first-byte failures never fall over; they end the stream like this).
func ErrorChunk(id, model string, err error) Chunk {
	reason := FinishError
	return Chunk{
		ID:     id,
		Object: "chat.completion.chunk",
		Model:  model,
		Choices: []ChunkChoice{{
			Delta:        Delta{},
			FinishReason: &reason,
		}},
		Err: err,
	}
}

// MarshalSSE renders the chunk as an OpenAI-compatible SSE data payload.
func (c Chunk) MarshalSSE() []byte {
	b, _ := json.Marshal(c)
	return b
}
