/*
Copyright (C) 2026 Podo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSListener receives live updates on a device-scoped subject.
type NATSListener struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

// NATSSubject builds the per-device subject.
func NATSSubject(companyID, deviceID string) string {
	return fmt.Sprintf("ad.%s.%s", companyID, deviceID)
}

func NewNATSListener(url, subject string, logger zerolog.Logger) (*NATSListener, error) {
	log := logger.With().Str("component", "notify.nats").Logger()
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	log.Info().Str("subject", subject).Msg("nats listener connected")
	return &NATSListener{conn: conn, subject: subject, logger: log}, nil
}

// Listen subscribes and delivers decoded messages to handle until the
// context ends. Undecodable payloads are logged and dropped.
func (l *NATSListener) Listen(ctx context.Context, handle Handler) error {
	sub, err := l.conn.Subscribe(l.subject, func(m *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			l.logger.Warn().Err(err).Msg("undecodable live update payload")
			return
		}
		handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", l.subject, err)
	}
	defer sub.Unsubscribe() //nolint:errcheck

	<-ctx.Done()
	return ctx.Err()
}

func (l *NATSListener) Close() error {
	l.conn.Close()
	return nil
}
