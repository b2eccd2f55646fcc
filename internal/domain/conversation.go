package domain

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one immutable entry of the conversation log.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Text: text}
}

func AssistantTurn(text string) Turn {
	return Turn{Role: RoleAssistant, Text: text}
}

// Mode selects the response path for a turn.
type Mode string

const (
	ModeExplain Mode = "explain"
	ModeQA      Mode = "qa"
)

// Modes lists every valid mode in display order.
func Modes() []Mode {
	return []Mode{ModeExplain, ModeQA}
}

// ParseMode accepts the wire form of a mode, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeExplain:
		return ModeExplain, nil
	case ModeQA:
		return ModeQA, nil
	default:
		return "", fmt.Errorf("domain: unknown mode %q", s)
	}
}

func (m Mode) Valid() bool {
	return m == ModeExplain || m == ModeQA
}

// Transcript renders history as "User: ..." / "AI: ..." lines. Every prompt
// that needs prior conversation goes through this function.
func Transcript(history []Turn) string {
	lines := make([]string, 0, len(history))
	for _, t := range history {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		switch t.Role {
		case RoleUser:
			lines = append(lines, "User: "+text)
		case RoleAssistant:
			lines = append(lines, "AI: "+text)
		}
	}
	return strings.Join(lines, "\n")
}

// ToChatMessages maps history onto chat completion roles.
func ToChatMessages(history []Turn) []ChatMessage {
	out := make([]ChatMessage, 0, len(history))
	for _, t := range history {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		out = append(out, ChatMessage{Role: string(t.Role), Content: text})
	}
	return out
}
