package channel

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bridgex/internal/domain"

	"github.com/google/uuid"
	irc "github.com/thoj/go-ircevent"
)

const ircJoinDelay = 2 * time.Second

// IRC bridges IRC channels. The protocol has no message ids, edits or
// deletes: inbound messages get synthesized ids so the identity map stays
// uniform, and Edit/Delete always fail terminally (the router posts notices
// instead, per the capability table).
type IRC struct {
	host         string
	port         int
	ssl          bool
	nick         string
	realName     string
	nickServPass string
	groups       []string

	conn   *irc.Connection
	logger *slog.Logger
}

type IRCOptions struct {
	Host         string
	Port         int
	SSL          bool
	Nick         string
	RealName     string
	NickServPass string
	// Groups are the channels to join, from the route table.
	Groups []string
	Logger *slog.Logger
}

func NewIRC(opts IRCOptions) *IRC {
	if opts.RealName == "" {
		opts.RealName = opts.Nick
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &IRC{
		host:         opts.Host,
		port:         opts.Port,
		ssl:          opts.SSL,
		nick:         opts.Nick,
		realName:     opts.RealName,
		nickServPass: opts.NickServPass,
		groups:       opts.Groups,
		logger:       opts.Logger,
	}
}

func (i *IRC) Name() domain.Platform { return domain.PlatformIRC }

// Start connects, joins the bridged channels and relays inbound lines until
// ctx is cancelled. go-ircevent reconnects on its own; joins are re-issued
// on every welcome.
func (i *IRC) Start(ctx context.Context, bus domain.EventBus) error {
	// The user field doubles as the realname in the USER registration.
	conn := irc.IRC(i.nick, i.realName)
	conn.UseTLS = i.ssl
	if i.ssl {
		conn.TLSConfig = &tls.Config{ServerName: i.host}
	}
	i.conn = conn

	conn.AddCallback("001", func(e *irc.Event) {
		i.logger.Info("irc connected", "server", i.host, "nick", conn.GetNick())
		if i.nickServPass != "" {
			conn.Privmsgf("NickServ", "IDENTIFY %s", i.nickServPass)
		}
		// Small delay so NickServ identification lands before joining
		// registered-only channels.
		go func() {
			time.Sleep(ircJoinDelay)
			for _, ch := range i.groups {
				conn.Join(ch)
			}
		}()
	})

	conn.AddCallback("PRIVMSG", func(e *irc.Event) {
		i.publishLine(bus, e, e.Message(), false)
	})
	conn.AddCallback("CTCP_ACTION", func(e *irc.Event) {
		i.publishLine(bus, e, "* "+e.Nick+" "+e.Message(), false)
	})
	conn.AddCallback("JOIN", func(e *irc.Event) {
		if e.Nick != conn.GetNick() {
			i.publishLine(bus, e, e.Nick+" joined", true)
		}
	})
	conn.AddCallback("PART", func(e *irc.Event) {
		if e.Nick != conn.GetNick() {
			i.publishLine(bus, e, e.Nick+" left", true)
		}
	})

	addr := fmt.Sprintf("%s:%d", i.host, i.port)
	if err := conn.Connect(addr); err != nil {
		return fmt.Errorf("irc connect %s: %w", addr, err)
	}

	go func() {
		<-ctx.Done()
		i.logger.Info("irc adapter stopping")
		conn.Quit()
	}()

	conn.Loop()
	return nil
}

// Stop is a no-op: the connection quits when Start's context is cancelled.
func (i *IRC) Stop() error { return nil }

func (i *IRC) publishLine(bus domain.EventBus, e *irc.Event, text string, system bool) {
	if len(e.Arguments) == 0 {
		return
	}
	channel := e.Arguments[0]
	if !strings.HasPrefix(channel, "#") {
		// Private message to the bot, not bridged traffic.
		return
	}
	if e.Nick == i.conn.GetNick() {
		return
	}

	ev := domain.Event{
		Kind:      domain.KindSend,
		Origin:    domain.Endpoint{Platform: domain.PlatformIRC, GroupID: channel},
		MessageID: "irc-" + uuid.NewString(),
		Text:      text,
		System:    system,
		Timestamp: time.Now(),
	}
	if !system {
		ev.AuthorNick = e.Nick
	}
	bus.Publish(ev)
}

// Send writes a relayed message line by line. Link-only media URLs were
// already rendered into the text by the formatter, so only the text goes
// out. The returned id is synthesized: IRC cannot address past messages,
// but the identity map still wants one per target.
func (i *IRC) Send(ctx context.Context, groupID string, out domain.Outbound) (string, error) {
	if i.conn == nil || !i.conn.Connected() {
		return "", domain.Retryable(fmt.Errorf("irc: not connected"))
	}
	for _, line := range strings.Split(out.Text, "\n") {
		if line == "" {
			continue
		}
		i.conn.Privmsg(groupID, line)
	}
	return "irc-" + uuid.NewString(), nil
}

func (i *IRC) Edit(ctx context.Context, groupID, messageID string, out domain.Outbound) error {
	return domain.Terminal(fmt.Errorf("irc: messages cannot be edited"))
}

func (i *IRC) Delete(ctx context.Context, groupID, messageID string) error {
	return domain.Terminal(fmt.Errorf("irc: messages cannot be deleted"))
}

// ResolveMediaURL passes through: IRC media is only ever a URL in text.
func (i *IRC) ResolveMediaURL(ctx context.Context, ref domain.MediaRef) (string, error) {
	return ref.URL, nil
}
