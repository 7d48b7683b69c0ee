// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package typing

import (
	"context"
	"time"

	"github.com/Arceliar/phony"
	"github.com/sirupsen/logrus"

	"github.com/element-hq/roomsync/setup/config"
	"github.com/element-hq/roomsync/syncapi/api"
)

// Sender keeps the server informed while the local user types. Typing
// starts with the first keystroke, is re-announced before the server
// would expire it, and ends after a quiet period or an explicit stop.
type Sender struct {
	phony.Inbox
	// Requests are made in order on their own inbox so a slow server
	// doesn't hold up keystrokes.
	outbox    phony.Inbox
	ctx       context.Context
	cfg       *config.Typing
	transport api.Transport
	rooms     map[string]*roomTyping
}

type roomTyping struct {
	typing bool
	// Timers check their generation when they fire, so that a timer
	// which was replaced does nothing.
	userGen     uint64
	serverGen   uint64
	userTimer   *time.Timer
	serverTimer *time.Timer
}

func NewSender(ctx context.Context, cfg *config.Typing, transport api.Transport) *Sender {
	return &Sender{
		ctx:       ctx,
		cfg:       cfg,
		transport: transport,
		rooms:     make(map[string]*roomTyping),
	}
}

// UserTyping records a keystroke in the room. It may be called for every
// keystroke.
func (s *Sender) UserTyping(roomID string) {
	s.SetTyping(roomID, true)
}

// Stop announces that the user stopped typing in the room.
func (s *Sender) Stop(roomID string) {
	s.SetTyping(roomID, false)
}

func (s *Sender) SetTyping(roomID string, typing bool) {
	s.Act(nil, func() {
		s.setTyping(roomID, typing)
	})
}

// IsTyping returns whether the user is currently considered to be typing
// in the room.
func (s *Sender) IsTyping(roomID string) (typing bool) {
	phony.Block(s, func() {
		if rt, ok := s.rooms[roomID]; ok {
			typing = rt.typing
		}
	})
	return
}

func (s *Sender) room(roomID string) *roomTyping {
	rt, ok := s.rooms[roomID]
	if !ok {
		rt = &roomTyping{}
		s.rooms[roomID] = rt
	}
	return rt
}

func (s *Sender) setTyping(roomID string, typing bool) {
	rt := s.room(roomID)
	switch {
	case typing && !rt.typing:
		rt.typing = true
		s.send(roomID, true, func(err error) {
			if err == nil && rt.typing {
				s.startServerTimer(roomID, rt)
			}
		})
	case !typing && rt.typing:
		s.stopTyping(roomID, rt)
	}
	if typing {
		s.startUserTimer(roomID, rt)
	}
}

func (s *Sender) stopTyping(roomID string, rt *roomTyping) {
	rt.typing = false
	stopTimer(rt.userTimer)
	stopTimer(rt.serverTimer)
	rt.userGen++
	rt.serverGen++
	s.send(roomID, false, nil)
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func (s *Sender) startUserTimer(roomID string, rt *roomTyping) {
	stopTimer(rt.userTimer)
	rt.userGen++
	gen := rt.userGen
	rt.userTimer = time.AfterFunc(s.cfg.UserTimeout(), func() {
		s.Act(nil, func() {
			if rt.userGen != gen || !rt.typing {
				return
			}
			logrus.WithField("room_id", roomID).Debug("User stopped typing")
			s.stopTyping(roomID, rt)
		})
	})
}

func (s *Sender) startServerTimer(roomID string, rt *roomTyping) {
	stopTimer(rt.serverTimer)
	rt.serverGen++
	gen := rt.serverGen
	rt.serverTimer = time.AfterFunc(s.cfg.ServerTimeout(), func() {
		s.Act(nil, func() {
			if rt.serverGen != gen || !rt.typing {
				return
			}
			s.startServerTimer(roomID, rt)
			s.send(roomID, true, nil)
		})
	})
}

// send queues the request and reports the result back on the actor.
func (s *Sender) send(roomID string, typing bool, done func(err error)) {
	var timeout time.Duration
	if typing {
		timeout = s.cfg.ServerSpecifiedTimeout()
	}
	s.outbox.Act(s, func() {
		err := s.transport.SetTyping(s.ctx, roomID, typing, timeout)
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"room_id": roomID,
				"typing":  typing,
			}).Warn("Failed to send typing notification")
		}
		if done != nil {
			s.Act(nil, func() {
				done(err)
			})
		}
	})
}
