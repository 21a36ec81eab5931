package ollama

import "encoding/base64"

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

// buildChatRequest sends the page as a single user turn with temperature 0.
func buildChatRequest(model, prompt string, image []byte) chatRequest {
	return chatRequest{
		Model: model,
		Messages: []chatMessage{{
			Role:    "user",
			Content: prompt,
			Images:  []string{base64.StdEncoding.EncodeToString(image)},
		}},
		Stream:  false,
		Options: map[string]any{"temperature": 0},
	}
}
