package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/playback"
)

const commandHelp = `commands:
  play | pause | reset
  seek <index>
  ff [speed] | rw [speed]
  next
  mode <daily|seasonal|epochal|millennial>
  highlight <entity> <operational|degraded|failed>
  announce
  state
  quit`

var errQuit = errors.New("quit")

type commandKind int

const (
	cmdControl commandKind = iota
	cmdAdvance
	cmdMode
	cmdHighlight
	cmdAnnounce
	cmdState
	cmdHelp
	cmdQuit
)

// command is one parsed line of source input
type command struct {
	kind    commandKind
	control playback.Command
	mode    model.TimelineMode
	entity  string
	status  model.EntityStatus
}

// driver is the authoritative side of a synchronizer
type driver interface {
	Control(cmd playback.Command) error
	Advance() error
	SetMode(mode model.TimelineMode) error
	Highlight(entity string, status model.EntityStatus) error
	Announce() error
}

func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, errors.New("empty command")
	}

	name, args := strings.ToLower(fields[0]), fields[1:]
	switch name {
	case "play", "pause", "reset":
		if len(args) != 0 {
			return command{}, fmt.Errorf("%s takes no arguments", name)
		}
		return command{kind: cmdControl, control: playback.Command{Action: model.PlaybackAction(name)}}, nil
	case "seek":
		if len(args) != 1 {
			return command{}, errors.New("usage: seek <index>")
		}
		idx, err := strconv.Atoi(args[0])
		if err != nil || idx < 0 {
			return command{}, fmt.Errorf("invalid index %q", args[0])
		}
		return command{kind: cmdControl, control: playback.Command{Action: model.ActionSeek, Index: idx}}, nil
	case "ff", "fast_forward", "rw", "rewind":
		action := model.ActionFastForward
		if name == "rw" || name == "rewind" {
			action = model.ActionRewind
		}
		cmd := command{kind: cmdControl, control: playback.Command{Action: action}}
		switch len(args) {
		case 0:
		case 1:
			speed, err := strconv.ParseFloat(args[0], 64)
			if err != nil || speed <= 0 {
				return command{}, fmt.Errorf("invalid speed %q", args[0])
			}
			cmd.control.Speed = speed
		default:
			return command{}, fmt.Errorf("usage: %s [speed]", name)
		}
		return cmd, nil
	case "next":
		return command{kind: cmdAdvance}, nil
	case "mode":
		if len(args) != 1 {
			return command{}, errors.New("usage: mode <daily|seasonal|epochal|millennial>")
		}
		mode := model.TimelineMode(strings.ToLower(args[0]))
		if !mode.Valid() {
			return command{}, fmt.Errorf("unknown mode %q", args[0])
		}
		return command{kind: cmdMode, mode: mode}, nil
	case "highlight":
		if len(args) != 2 {
			return command{}, errors.New("usage: highlight <entity> <operational|degraded|failed>")
		}
		status := model.EntityStatus(strings.ToLower(args[1]))
		if !status.Valid() {
			return command{}, fmt.Errorf("unknown entity status %q", args[1])
		}
		return command{kind: cmdHighlight, entity: args[0], status: status}, nil
	case "announce":
		return command{kind: cmdAnnounce}, nil
	case "state":
		return command{kind: cmdState}, nil
	case "help", "?":
		return command{kind: cmdHelp}, nil
	case "quit", "exit":
		return command{kind: cmdQuit}, nil
	}
	return command{}, fmt.Errorf("unknown command %q", fields[0])
}

// execute runs cmd against d. cmdState and cmdHelp are handled by the caller.
func execute(d driver, cmd command) error {
	switch cmd.kind {
	case cmdControl:
		return d.Control(cmd.control)
	case cmdAdvance:
		return d.Advance()
	case cmdMode:
		return d.SetMode(cmd.mode)
	case cmdHighlight:
		return d.Highlight(cmd.entity, cmd.status)
	case cmdAnnounce:
		return d.Announce()
	case cmdQuit:
		return errQuit
	}
	return nil
}
