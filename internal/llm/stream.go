package llm

// ApiStream is a stream of response chunks from a provider. The channel is
// closed by the provider when the generation finishes or fails; chunks are
// emitted in generation order and the engine never reorders them.
type ApiStream <-chan ApiStreamChunk

// ApiStreamChunk is one unit of streamed output.
type ApiStreamChunk interface {
	Type() string
}

// ApiStreamTextChunk carries text content.
type ApiStreamTextChunk struct {
	Text string `json:"text"`
}

func (c ApiStreamTextChunk) Type() string { return "text" }

// ApiStreamReasoningChunk carries reasoning/thinking content for models that
// expose it.
type ApiStreamReasoningChunk struct {
	Reasoning string `json:"reasoning"`
}

func (c ApiStreamReasoningChunk) Type() string { return "reasoning" }

// ApiStreamUsageChunk carries token accounting, usually last.
type ApiStreamUsageChunk struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

func (c ApiStreamUsageChunk) Type() string { return "usage" }

// ApiStreamFinishChunk signals normal completion with the provider's finish
// reason. Its absence at channel close means the stream ended abnormally.
type ApiStreamFinishChunk struct {
	Reason string `json:"reason"`
}

func (c ApiStreamFinishChunk) Type() string { return "finish" }

// ApiStreamErrorChunk surfaces a mid-stream provider failure.
type ApiStreamErrorChunk struct {
	Err error `json:"-"`
}

func (c ApiStreamErrorChunk) Type() string { return "error" }
