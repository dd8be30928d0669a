package pipeline

import (
	"strings"

	"clipbot/pkg/channel"
)

// Action is the interpreted form of a button callback token.
type Action string

const (
	ActionSendToTarget    Action = "send_to_target"
	ActionDiscard         Action = "discard"
	ActionDeleteFile      Action = "delete_file"
	ActionRegenerateClips Action = "create_new_clips"
	ActionDownloadAndClip Action = "download_and_create_clips"
	ActionUnknown         Action = "unknown"
)

// ParseAction maps a raw callback token to an Action; anything else is ActionUnknown.
func ParseAction(raw string) Action {
	switch action := Action(strings.TrimSpace(raw)); action {
	case ActionSendToTarget, ActionDiscard, ActionDeleteFile, ActionRegenerateClips, ActionDownloadAndClip:
		return action
	default:
		return ActionUnknown
	}
}

func button(text string, action Action) channel.Button {
	return channel.Button{Text: text, Data: string(action)}
}

var (
	sendButton       = button("Send to target", ActionSendToTarget)
	discardButton    = button("Discard", ActionDiscard)
	deleteFileButton = button("Delete file", ActionDeleteFile)
	newClipsButton   = button("Create new clips", ActionRegenerateClips)
	downloadButton   = button("Download and create clips", ActionDownloadAndClip)
)

// shortVideoButtons offer an on-demand download for media that was not fetched.
func shortVideoButtons() [][]channel.Button {
	return [][]channel.Button{
		{sendButton, discardButton},
		{downloadButton, deleteFileButton},
	}
}

func longVideoButtons() [][]channel.Button {
	return [][]channel.Button{
		{sendButton, discardButton},
		{newClipsButton, deleteFileButton},
	}
}

func fileButtons() [][]channel.Button {
	return [][]channel.Button{
		{sendButton, discardButton},
		{deleteFileButton},
	}
}

func clipButtons() [][]channel.Button {
	return [][]channel.Button{
		{sendButton, discardButton},
	}
}
