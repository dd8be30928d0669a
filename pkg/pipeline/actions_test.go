package pipeline

import (
	"testing"

	"clipbot/pkg/channel"

	"github.com/stretchr/testify/assert"
)

func TestParseAction(t *testing.T) {
	tests := map[string]Action{
		"send_to_target":            ActionSendToTarget,
		"discard":                   ActionDiscard,
		"delete_file":               ActionDeleteFile,
		"create_new_clips":          ActionRegenerateClips,
		"download_and_create_clips": ActionDownloadAndClip,
		" discard ":                 ActionDiscard,
		"unknown":                   ActionUnknown,
		"DISCARD":                   ActionUnknown,
		"":                          ActionUnknown,
		"rm -rf":                    ActionUnknown,
	}

	for raw, want := range tests {
		assert.Equal(t, want, ParseAction(raw), "raw=%q", raw)
	}
}

func TestButtonLayoutsCarryActionTokens(t *testing.T) {
	tokens := func(rows [][]channel.Button) []string {
		var out []string
		for _, row := range rows {
			for _, b := range row {
				out = append(out, b.Data)
			}
		}
		return out
	}

	assert.Equal(t, []string{"send_to_target", "discard", "download_and_create_clips", "delete_file"}, tokens(shortVideoButtons()))
	assert.Equal(t, []string{"send_to_target", "discard", "create_new_clips", "delete_file"}, tokens(longVideoButtons()))
	assert.Equal(t, []string{"send_to_target", "discard", "delete_file"}, tokens(fileButtons()))
	assert.Equal(t, []string{"send_to_target", "discard"}, tokens(clipButtons()))
}
