package router

import (
	"fmt"
	"strings"

	"bridgex/internal/domain"
	"bridgex/internal/overflow"
	"bridgex/internal/platform"
)

// IRC control codes used in edit/delete notices.
const (
	ircBold      = "\x02"
	ircColor     = "\x03"
	ircColorBlue = "12"
	ircColorRed  = "04"
)

const replyExcerptLen = 50

// Formatter renders normalized events into the relay line posted on each
// target platform: [P - nick] Re ...: Fwd ...: <media>: text.
type Formatter struct {
	prefixes map[domain.Platform]string
}

// NewFormatter creates a formatter with the configured per-platform prefix
// letters.
func NewFormatter(prefixes map[domain.Platform]string) *Formatter {
	if prefixes == nil {
		prefixes = map[domain.Platform]string{}
	}
	return &Formatter{prefixes: prefixes}
}

func (f *Formatter) prefix(p domain.Platform) string {
	if s, ok := f.prefixes[p]; ok && s != "" {
		return s
	}
	return strings.ToUpper(string(p[:1]))
}

// RelayLine renders the outgoing text for one target platform.
func (f *Formatter) RelayLine(ev domain.Event, target domain.Platform) string {
	if ev.System {
		// No prefix for join/quit style notices; inline code where the
		// platform renders it.
		if target == domain.PlatformIRC {
			return ev.Text
		}
		return "`" + ev.Text + "`"
	}

	bold := platform.For(target).Bold

	var reply string
	if ev.ReplyTo != nil && target == domain.PlatformIRC {
		// Only IRC needs the quoted context; the other platforms reply
		// natively through their adapters.
		reply = fmt.Sprintf("Re %s 「%s」: ",
			ev.ReplyTo.Nick, excerpt(ev.ReplyTo.Text, replyExcerptLen))
	}

	var fwd string
	if ev.FwdFrom != "" {
		fwd = "Fwd " + ev.FwdFrom + ": "
	}

	files := f.mediaDescriptor(ev.Media, target)
	if files != "" {
		files += " "
	}

	return fmt.Sprintf("[%s - %s%s%s] %s%s%s%s",
		f.prefix(ev.Origin.Platform), bold, ev.AuthorNick, bold,
		reply, fwd, files, ev.Text)
}

// mediaDescriptor summarizes attachments inline. IRC is the only platform
// that needs the URLs spelled out; everywhere else the adapter attaches the
// media itself and the descriptor only covers what could not be attached.
func (f *Formatter) mediaDescriptor(media []domain.MediaRef, target domain.Platform) string {
	if len(media) == 0 {
		return ""
	}
	if target == domain.PlatformIRC {
		parts := make([]string, 0, len(media))
		for _, m := range media {
			url := m.URL
			if url == "" {
				url = m.Handle
			}
			parts = append(parts, fmt.Sprintf("<%s> %s", m.Type, url))
		}
		return strings.Join(parts, " ")
	}
	if len(media) > 1 {
		return fmt.Sprintf("<album: %d files>", len(media))
	}
	return fmt.Sprintf("<%s>", media[0].Type)
}

// EditNotice renders the line posted on platforms that cannot edit in
// place: the freshly rendered relay line flagged as an edit.
func (f *Formatter) EditNotice(relayLine string) string {
	return ircBold + ircColor + ircColorBlue + "edited:" + ircColor + ircBold + " " + relayLine
}

// DeleteNotice renders the visible notice posted on platforms that cannot
// delete. The original text is gone from the map by design, so the notice
// names the source platform rather than quoting the message.
func (f *Formatter) DeleteNotice(origin domain.OriginKey) string {
	return ircBold + ircColor + ircColorRed + "a bridged message from " +
		f.prefix(origin.Platform) + " was deleted" + ircColor + ircBold
}

func excerpt(s string, n int) string {
	if t := overflow.TruncateRunes(s, n); len(t) < len(s) {
		return t + "..."
	}
	return s
}
