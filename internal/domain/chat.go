package domain

import "encoding/json"

// ChatMessage is the provider-agnostic chat message shape used by the relay
// and LLM integrations. Text-only messages marshal with a plain string
// content; messages carrying an image marshal with a content-part array.
type ChatMessage struct {
	Role     string
	Text     string
	ImageURL string
}

type contentPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *contentFile `json:"image_url,omitempty"`
}

type contentFile struct {
	URL string `json:"url"`
}

func (m ChatMessage) MarshalJSON() ([]byte, error) {
	if m.ImageURL == "" {
		return json.Marshal(struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{Role: m.Role, Content: m.Text})
	}
	parts := make([]contentPart, 0, 2)
	if m.Text != "" {
		parts = append(parts, contentPart{Type: "text", Text: m.Text})
	}
	parts = append(parts, contentPart{Type: "image_url", ImageURL: &contentFile{URL: m.ImageURL}})
	return json.Marshal(struct {
		Role    string        `json:"role"`
		Content []contentPart `json:"content"`
	}{Role: m.Role, Content: parts})
}
