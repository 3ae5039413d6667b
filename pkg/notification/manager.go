package notification

import (
	"bytes"
	"fmt"
	"html/template"
	"sync"
	texttemplate "text/template"
)

// Manager renders notices from templates registered per notice type and
// channel
type Manager struct {
	templates map[string]NoticeTemplate
	mutex     sync.RWMutex
}

// NewManager creates an empty template manager
func NewManager() *Manager {
	return &Manager{
		templates: make(map[string]NoticeTemplate),
	}
}

// NewDefaultManager creates a manager preloaded with the built-in
// templates for every channel
func NewDefaultManager() *Manager {
	m := NewManager()

	m.RegisterTemplate(NoticeOTPCode, "email", NoticeTemplate{
		Subject: "Your verification code",
		Text:    "Your verification code is {{.Code}}. It expires at {{.Expiry}}.",
		Html:    "<p>Your verification code is <strong>{{.Code}}</strong>.</p><p>It expires at {{.Expiry}}.</p>",
	})
	m.RegisterTemplate(NoticeOTPCode, "phone", NoticeTemplate{
		Text: "Your verification code is {{.Code}}. It expires at {{.Expiry}}.",
	})
	m.RegisterTemplate(NoticeBlocked, "email", NoticeTemplate{
		Subject: "Too many verification attempts",
		Text:    "Verification for your account is paused until {{.BlockExpiry}} after too many attempts.",
	})
	m.RegisterTemplate(NoticeBlocked, "phone", NoticeTemplate{
		Text: "Verification for your account is paused until {{.BlockExpiry}}.",
	})

	return m
}

func templateKey(noticeType NoticeType, channelID string) string {
	return string(noticeType) + "/" + channelID
}

// RegisterTemplate sets the template for a notice type on a channel,
// replacing any previous one
func (m *Manager) RegisterTemplate(noticeType NoticeType, channelID string, tmpl NoticeTemplate) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.templates[templateKey(noticeType, channelID)] = tmpl
}

// Template returns the registered template for a notice type on a channel
func (m *Manager) Template(noticeType NoticeType, channelID string) (NoticeTemplate, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	tmpl, exists := m.templates[templateKey(noticeType, channelID)]
	return tmpl, exists
}

// Render executes the registered template with the given data
func (m *Manager) Render(noticeType NoticeType, channelID string, data map[string]string) (Notice, error) {
	tmpl, exists := m.Template(noticeType, channelID)
	if !exists {
		return Notice{}, fmt.Errorf("no template registered for %s on %s", noticeType, channelID)
	}

	notice := Notice{Subject: tmpl.Subject}

	if tmpl.Text != "" {
		parsed, err := texttemplate.New("text").Parse(tmpl.Text)
		if err != nil {
			return Notice{}, fmt.Errorf("failed to parse text template: %w", err)
		}
		var buf bytes.Buffer
		if err := parsed.Execute(&buf, data); err != nil {
			return Notice{}, fmt.Errorf("failed to execute text template: %w", err)
		}
		notice.Text = buf.String()
	}

	if tmpl.Html != "" {
		parsed, err := template.New("html").Parse(tmpl.Html)
		if err != nil {
			return Notice{}, fmt.Errorf("failed to parse html template: %w", err)
		}
		var buf bytes.Buffer
		if err := parsed.Execute(&buf, data); err != nil {
			return Notice{}, fmt.Errorf("failed to execute html template: %w", err)
		}
		notice.Html = buf.String()
	}

	return notice, nil
}
