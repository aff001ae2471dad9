package provider

// embeddingRequest is the request body for the embeddings endpoint.
type embeddingRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

// embeddingResponse is the response body from the embeddings endpoint.
type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// chatMessage is one message in a chat completion exchange.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// completionRequest is the request body for the chat completions endpoint.
type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// completionResponse is the response body from the chat completions endpoint.
type completionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Model string `json:"model"`
}
