package prosoche

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	urgentThreshold    = 0.8
	attentionThreshold = 0.5

	domainChecksHeader = "## Domain Checks"
)

// Writer maintains one agent's PROSOCHE.md. Writes are atomic and
// skipped entirely when the rendered content matches what is on disk.
type Writer struct {
	now func() time.Time
}

// NewWriter returns a writer with the real clock.
func NewWriter() *Writer {
	return &Writer{now: time.Now}
}

// Render builds the file: the attention list, the staged context, and
// the preserved static tail of the existing content.
func (w *Writer) Render(score Score, existing string) string {
	var sections []string

	var attention strings.Builder
	attention.WriteString("## Attention\n")
	if len(score.Top) == 0 {
		attention.WriteString("\nNothing needs attention right now.")
	} else {
		for _, sc := range score.Top {
			attention.WriteString(fmt.Sprintf("\n- %s %s", urgencyTag(sc.Signal.Urgency), sc.Signal.Summary))
		}
	}
	sections = append(sections, attention.String())

	if len(score.Context) > 0 {
		var staged strings.Builder
		staged.WriteString("## Staged Context\n")
		now := w.now()
		for _, block := range score.Context {
			if block.Expired(now) {
				continue
			}
			staged.WriteString(fmt.Sprintf("\n### %s\n%s\n", block.Title, block.Content))
			attribution := "— " + block.Source
			if !block.ExpiresAt.IsZero() {
				attribution += fmt.Sprintf(" (expires in %s)", block.ExpiresAt.Sub(now).Round(time.Minute))
			}
			staged.WriteString(attribution + "\n")
		}
		sections = append(sections, strings.TrimRight(staged.String(), "\n"))
	}

	if tail := domainChecks(existing); tail != "" {
		sections = append(sections, tail)
	}

	return strings.Join(sections, "\n\n") + "\n"
}

// Write renders and atomically replaces the file. A content match is
// a no-op so file watchers do not fire on every tick.
func (w *Writer) Write(path string, score Score) error {
	existing := ""
	if data, err := os.ReadFile(path); err == nil {
		existing = string(data)
	}

	rendered := w.Render(score, existing)
	if strings.TrimSpace(rendered) == strings.TrimSpace(existing) {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".prosoche-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(rendered); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}

func urgencyTag(urgency float64) string {
	switch {
	case urgency >= urgentThreshold:
		return "[URGENT]"
	case urgency >= attentionThreshold:
		return "[ATTENTION]"
	default:
		return "[INFO]"
	}
}

// domainChecks returns the static tail starting at its header, or "".
func domainChecks(content string) string {
	idx := strings.Index(content, domainChecksHeader)
	if idx < 0 {
		return ""
	}
	return strings.TrimRight(content[idx:], "\n")
}
