package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

// notificationWait bounds a single WaitForNotification call so the loop
// returns often enough to drain pending LISTEN/UNLISTEN commands.
const notificationWait = 100 * time.Millisecond

// maxReconnectBackoff caps the delay between reconnect attempts after the
// LISTEN connection drops.
const maxReconnectBackoff = 30 * time.Second

// subCommand is a LISTEN or UNLISTEN to be executed by the listen loop,
// which is the only goroutine allowed to touch the pgx connection.
type subCommand struct {
	sql     string
	channel string
	gen     uint64 // generation captured at Unsubscribe time; 0 for LISTEN
	result  chan error
}

// NotifyListener bridges PostgreSQL NOTIFY traffic into the local
// ConnectionManager: every payload arriving on a LISTENed meeting channel
// is broadcast to that channel's WebSocket subscribers. Running one
// listener per process is what lets a summary persisted on any replica
// reach subscribers connected to this one.
type NotifyListener struct {
	connString string
	manager    *ConnectionManager

	// conn is the dedicated LISTEN connection. It must never be shared
	// with the pool: WaitForNotification monopolizes it.
	conn   *pgx.Conn
	connMu sync.Mutex

	// channels tracks what this process should be LISTENing on, so a
	// reconnect can re-establish every subscription.
	channels   map[string]bool
	channelsMu sync.RWMutex

	// commands funnels LISTEN/UNLISTEN through the listen loop. Executing
	// them there, between notification waits, avoids the "conn busy"
	// race a concurrent Exec against WaitForNotification would hit.
	commands chan subCommand
	running  atomic.Bool

	// generations guards against a stale UNLISTEN beating a newer LISTEN:
	// each executed LISTEN bumps the channel's generation, and an
	// UNLISTEN is dropped when the generation it captured has since
	// advanced (a rapid unsubscribe/resubscribe cycle would otherwise
	// leave the channel silently unlistened).
	generations   map[string]uint64
	generationsMu sync.Mutex

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewNotifyListener creates a listener that will broadcast notifications
// through manager once started.
func NewNotifyListener(connString string, manager *ConnectionManager) *NotifyListener {
	return &NotifyListener{
		connString:  connString,
		manager:     manager,
		channels:    make(map[string]bool),
		commands:    make(chan subCommand, 16),
		generations: make(map[string]uint64),
	}
}

// Start opens the dedicated connection and launches the listen loop.
func (l *NotifyListener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("connect for LISTEN: %w", err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()

	l.running.Store(true)

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancelLoop = cancel
	l.loopDone = make(chan struct{})
	go func() {
		defer close(l.loopDone)
		l.run(loopCtx)
	}()

	slog.Info("notify listener started")
	return nil
}

// Stop signals the listen loop to exit, waits for it, then closes the
// connection. Waiting first prevents a close racing WaitForNotification.
func (l *NotifyListener) Stop(ctx context.Context) {
	l.running.Store(false)

	if l.cancelLoop != nil {
		l.cancelLoop()
	}
	if l.loopDone != nil {
		<-l.loopDone
	}

	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}

// Subscribe begins LISTENing on channel. It always sends the LISTEN even
// when l.channels already marks the channel active — PostgreSQL treats the
// duplicate as a no-op, and skipping it would lose to an UNLISTEN still in
// flight from a just-departed subscriber. The call blocks until the listen
// loop has actually executed the statement, so a notification published
// right after Subscribe returns cannot be missed.
func (l *NotifyListener) Subscribe(ctx context.Context, channel string) error {
	if !l.running.Load() {
		return fmt.Errorf("LISTEN connection not established")
	}

	sanitized := pgx.Identifier{channel}.Sanitize()
	cmd := subCommand{
		sql:     "LISTEN " + sanitized,
		channel: channel,
		result:  make(chan error, 1),
	}

	select {
	case l.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.result:
		if err != nil {
			return fmt.Errorf("LISTEN %s: %w", sanitized, err)
		}
		l.channelsMu.Lock()
		l.channels[channel] = true
		l.channelsMu.Unlock()
		slog.Debug("listening on channel", "channel", channel)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unsubscribe stops LISTENing on channel. The command carries the current
// generation; if a newer Subscribe lands before the listen loop gets to
// it, the UNLISTEN is discarded as stale.
func (l *NotifyListener) Unsubscribe(ctx context.Context, channel string) error {
	l.channelsMu.Lock()
	if !l.channels[channel] {
		l.channelsMu.Unlock()
		return nil
	}
	l.channelsMu.Unlock()

	if !l.running.Load() {
		return nil
	}

	l.generationsMu.Lock()
	gen := l.generations[channel]
	l.generationsMu.Unlock()

	sanitized := pgx.Identifier{channel}.Sanitize()
	cmd := subCommand{
		sql:     "UNLISTEN " + sanitized,
		channel: channel,
		gen:     gen,
		result:  make(chan error, 1),
	}

	select {
	case l.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.result:
		if err != nil {
			return fmt.Errorf("UNLISTEN %s: %w", sanitized, err)
		}
		// Only forget the channel if no Subscribe raced us: an advanced
		// generation means a newer LISTEN is active (the UNLISTEN was
		// skipped), and the channel must survive for reconnect.
		l.generationsMu.Lock()
		stale := l.generations[channel] != gen
		l.generationsMu.Unlock()
		if !stale {
			l.channelsMu.Lock()
			delete(l.channels, channel)
			l.channelsMu.Unlock()
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isListening reports whether channel is currently LISTENed.
// Unexported — tests poll this instead of sleeping.
func (l *NotifyListener) isListening(channel string) bool {
	l.channelsMu.RLock()
	defer l.channelsMu.RUnlock()
	return l.channels[channel]
}

// run alternates between draining subscription commands and waiting for
// notifications, broadcasting each arriving payload to the channel's
// WebSocket subscribers. It is the sole user of the pgx connection.
func (l *NotifyListener) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.drainCommands(ctx)

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()

		if conn == nil {
			l.reconnect(ctx)
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, notificationWait)
		notification, err := conn.WaitForNotification(waitCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if waitCtx.Err() != nil {
				continue // wait window elapsed, go drain commands
			}
			slog.Error("NOTIFY receive failed", "error", err)
			l.reconnect(ctx)
			continue
		}

		l.manager.Broadcast(notification.Channel, []byte(notification.Payload))
	}
}

// drainCommands executes every queued LISTEN/UNLISTEN. A successful
// LISTEN advances the channel's generation; an UNLISTEN whose captured
// generation no longer matches is acknowledged without executing.
func (l *NotifyListener) drainCommands(ctx context.Context) {
	for {
		select {
		case cmd := <-l.commands:
			if cmd.gen > 0 {
				l.generationsMu.Lock()
				stale := l.generations[cmd.channel] != cmd.gen
				l.generationsMu.Unlock()
				if stale {
					cmd.result <- nil
					continue
				}
			}

			l.connMu.Lock()
			conn := l.conn
			l.connMu.Unlock()

			if conn == nil {
				cmd.result <- fmt.Errorf("LISTEN connection not established")
				continue
			}

			_, err := conn.Exec(ctx, cmd.sql)

			if err == nil && cmd.gen == 0 && cmd.channel != "" {
				l.generationsMu.Lock()
				l.generations[cmd.channel]++
				l.generationsMu.Unlock()
			}

			cmd.result <- err
		default:
			return
		}
	}
}

// reconnect re-establishes the LISTEN connection with exponential backoff
// and re-LISTENs every tracked channel.
func (l *NotifyListener) reconnect(ctx context.Context) {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}

	delay := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			slog.Error("LISTEN reconnect failed", "error", err, "backoff", delay)
			delay = min(delay*2, maxReconnectBackoff)
			continue
		}
		l.conn = conn

		l.channelsMu.RLock()
		for ch := range l.channels {
			if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
				slog.Error("re-LISTEN after reconnect failed", "channel", ch, "error", err)
			}
		}
		l.channelsMu.RUnlock()

		slog.Info("notify listener reconnected")
		return
	}
}
