package agent

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Turn is one exchange entry of a local session.
type Turn struct {
	Role    string
	Content string
	At      time.Time
}

// Transcript records the turns of an interactive session.
type Transcript struct {
	mu    sync.RWMutex
	turns []Turn
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

func (t *Transcript) Append(role string, content string) {
	role = strings.TrimSpace(role)
	content = strings.TrimSpace(content)
	if role == "" || content == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.turns = append(t.turns, Turn{
		Role:    role,
		Content: content,
		At:      time.Now().UTC(),
	})
}

func (t *Transcript) List() []Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.turns) == 0 {
		return nil
	}

	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Markdown renders the transcript as a document with one section per turn.
func (t *Transcript) Markdown() string {
	turns := t.List()

	var sb strings.Builder
	sb.WriteString("# freightdesk session\n")
	for _, turn := range turns {
		fmt.Fprintf(&sb, "\n## %s (%s)\n\n%s\n", turn.Role, turn.At.Format(time.RFC3339), turn.Content)
	}

	return sb.String()
}
