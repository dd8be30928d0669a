// Package cliprun renders a local clip extraction in the terminal.
package cliprun

import (
	"context"

	"clipbot/pkg/clip"

	tea "github.com/charmbracelet/bubbletea"
)

// ExtractFunc runs the extraction the screen reports on.
type ExtractFunc func(ctx context.Context) (clip.Result, error)

// Job describes what is being cut, for the header.
type Job struct {
	SourcePath string
	Count      int
	Duration   int
}

// Run shows a spinner while extract runs, then the produced clips. It
// returns the extraction outcome once the user leaves the screen.
func Run(ctx context.Context, job Job, extract ExtractFunc) (clip.Result, error) {
	m := newModel(ctx, job, extract)
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return clip.Result{}, err
	}

	done := final.(*model)
	return done.result, done.err
}
