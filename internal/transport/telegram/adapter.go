// Package telegram implements the transport adapter on top of the Bot API.
// It is send-only: the relay never consumes inbound updates, so no poller
// is started.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"hookrelay/internal/transport"
	logx "hookrelay/pkg/logx"
)

// Telegram albums carry at most ten media items per API call.
const albumLimit = 10

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) Name() string { return "telegram" }

func (a *Adapter) Ready() bool { return a.bot != nil }

func (a *Adapter) SendImage(ctx context.Context, to transport.Target, image []byte, caption string) error {
	photo := &tele.Photo{
		File:    tele.FromReader(bytes.NewReader(image)),
		Caption: caption,
	}
	_, err := a.bot.Send(recipient(to.GroupID), photo)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// SendForward maps a forward package onto media albums: the closest Bot API
// analog of a compound multi-item message. Oversized packages are split
// into consecutive albums.
func (a *Adapter) SendForward(ctx context.Context, to transport.Target, items []transport.ForwardItem) error {
	if len(items) == 0 {
		return nil
	}
	for _, chunk := range chunkItems(items, albumLimit) {
		album := make(tele.Album, 0, len(chunk))
		for i, item := range chunk {
			photo := &tele.Photo{File: tele.FromReader(bytes.NewReader(item.Image))}
			if i == 0 && item.SenderName != "" {
				photo.Caption = item.SenderName
			}
			album = append(album, photo)
		}
		if _, err := a.bot.SendAlbum(recipient(to.GroupID), album); err != nil {
			return fmt.Errorf("telegram album: %w", err)
		}
	}
	return nil
}

func chunkItems(items []transport.ForwardItem, size int) [][]transport.ForwardItem {
	var out [][]transport.ForwardItem
	for len(items) > size {
		out = append(out, items[:size])
		items = items[size:]
	}
	return append(out, items)
}

// stringRecipient lets "@channelname" destinations through unchanged.
type stringRecipient string

func (s stringRecipient) Recipient() string { return string(s) }

func recipient(groupID string) tele.Recipient {
	id := strings.TrimSpace(groupID)
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return tele.ChatID(n)
	}
	return stringRecipient(id)
}
