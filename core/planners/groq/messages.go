package groq

import (
	"encoding/base64"

	"github.com/koscakluka/ema-demo/core/surface"
)

type message struct {
	Role    messageRole   `json:"role"`
	Content []contentPart `json:"content"`
}

type messageRole string

const (
	messageRoleSystem messageRole = "system"
	messageRoleUser   messageRole = "user"
)

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// toMessages builds the single user turn carrying the prompt and, when there
// is one, the screenshot as a data URL.
func toMessages(instructions, prompt string, observation surface.Observation) []message {
	messages := []message{}
	if instructions != "" {
		messages = append(messages, message{
			Role:    messageRoleSystem,
			Content: []contentPart{{Type: "text", Text: instructions}},
		})
	}

	parts := []contentPart{{Type: "text", Text: prompt}}
	if !observation.IsZero() {
		mimeType := observation.MIMEType
		if mimeType == "" {
			mimeType = "image/png"
		}
		parts = append(parts, contentPart{
			Type:     "image_url",
			ImageURL: &imageURL{URL: "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(observation.Image)},
		})
	}
	return append(messages, message{Role: messageRoleUser, Content: parts})
}
