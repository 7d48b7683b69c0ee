// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package dispatcher

import (
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"

	"github.com/element-hq/roomsync/syncapi/synctypes"
)

const (
	contentRepoScheme  = "mxc://"
	fallbackFileIcon   = "img/icons/filetype-attachment.png"
	fileIconWidth      = 33
	fileIconHeight     = 40
	fileIconPathPrefix = "img/icons/filetype-"
)

// Major mime types with a dedicated icon.
var fileIcons = map[string]string{
	"audio":   fileIconPathPrefix + "audio.png",
	"image":   fileIconPathPrefix + "image.png",
	"message": fileIconPathPrefix + "message.png",
	"text":    fileIconPathPrefix + "text.png",
	"video":   fileIconPathPrefix + "video.png",
}

// FileIcon returns the icon for a mime type such as "video/mp4".
func FileIcon(mimetype string) string {
	major, _, _ := strings.Cut(mimetype, "/")
	if icon, ok := fileIcons[major]; ok {
		return icon
	}
	return fallbackFileIcon
}

// withThumbnail returns ev with a file type icon as its thumbnail if it is
// a file message with no thumbnail of its own. Content repository URLs are
// left alone since the server can thumbnail those. The original event is
// not modified.
func withThumbnail(ev *synctypes.Event) *synctypes.Event {
	url := ev.Get("url").Str
	if url == "" || strings.HasPrefix(url, contentRepoScheme) {
		return ev
	}
	if ev.Get("thumbnail_url").Exists() {
		return ev
	}
	mimetype := ev.Get("info.mimetype").Str
	if mimetype == "" {
		return ev
	}
	content, err := sjson.SetBytes(ev.Content, "thumbnail_url", FileIcon(mimetype))
	if err == nil {
		content, err = sjson.SetBytes(content, "thumbnail_info", map[string]int{
			"w": fileIconWidth,
			"h": fileIconHeight,
		})
	}
	if err != nil {
		logrus.WithError(err).WithField("event_id", ev.EventID).Warn("Failed to add thumbnail")
		return ev
	}
	out := ev.Clone()
	out.Content = content
	return out
}
