package queueadmin

import "strings"

type Severity string

const (
	SeverityOK      Severity = "ok"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Message is one user-facing report entry.
type Message struct {
	Severity Severity `json:"severity"`
	Title    string   `json:"title"`
	Text     string   `json:"text"`
}

// Report collects the messages of one administrative operation in the order they were added.
type Report struct {
	Messages []Message `json:"messages"`
}

func (r *Report) Add(severity Severity, title, text string) {
	r.Messages = append(r.Messages, Message{Severity: severity, Title: title, Text: strings.TrimSpace(text)})
}

func (r *Report) OK(title, text string)      { r.Add(SeverityOK, title, text) }
func (r *Report) Warning(title, text string) { r.Add(SeverityWarning, title, text) }
func (r *Report) Error(title, text string)   { r.Add(SeverityError, title, text) }

func (r Report) HasErrors() bool {
	for _, m := range r.Messages {
		if m.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Count returns how many messages carry severity.
func (r Report) Count(severity Severity) int {
	n := 0
	for _, m := range r.Messages {
		if m.Severity == severity {
			n++
		}
	}
	return n
}
