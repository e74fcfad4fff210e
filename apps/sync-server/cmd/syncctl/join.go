package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/config"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/coordinator"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/peer"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/playback"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/router"
)

type joinOptions struct {
	role    model.Role
	id      string
	peer    bool
	advance time.Duration
}

func joinCmd() *cobra.Command {
	var (
		role string
		opts joinOptions
	)
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join the broadcast and follow or drive playback",
		Long: `Join the broadcast. A source reads playback commands from stdin
(type "help" for the list); every other role prints what it is shown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := model.ParseRole(role)
			if err != nil {
				return err
			}
			opts.role = r
			return runJoin(opts)
		},
	}
	cmd.Flags().StringVar(&role, "role", string(model.RoleObserver), "requested role: source, moderator or observer")
	cmd.Flags().StringVar(&opts.id, "id", "", "client id; the server generates one when empty")
	cmd.Flags().BoolVar(&opts.peer, "peer", false, "negotiate a direct peer connection for media and low-latency control")
	cmd.Flags().DurationVar(&opts.advance, "advance", 0, "source only: advance the index at this interval while playing")
	return cmd
}

func runJoin(opts joinOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()
	wsURL, err := newClient().WebSocketURL(cfg.WebSocket.Path)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		sync *playback.Synchronizer
		neg  *peer.Negotiator
	)
	coord := coordinator.New(coordinator.Options{
		URL:               wsURL,
		ClientID:          opts.id,
		Token:             viper.GetString("token"),
		Router:            router.New(log, nil),
		Backoff:           coordinator.NewBackoff(cfg.Reconnect),
		MaxAttempts:       cfg.Reconnect.MaxAttempts,
		HandshakeTimeout:  cfg.Reconnect.HandshakeTimeout,
		HeartbeatInterval: cfg.Heartbeat.Interval,
		OnAssigned: func(ra model.RoleAssignment) {
			sync.SetLocalID(ra.ClientID)
			sync.SetRole(ra.Role)
			if neg != nil {
				neg.SetIdentity(ra.ClientID, ra.Role)
			}
		},
		Logger: log,
	})
	sync = playback.New(playback.Options{
		LocalID: opts.id,
		Role:    opts.role,
		Emitter: coord,
		Logger:  log,
	})
	defer sync.Close()

	coord.Subscribe(router.Wildcard, sync.Apply, router.WithName("playback"))
	if opts.peer {
		neg = peer.NewNegotiator(peer.Options{
			LocalID:          opts.id,
			Role:             opts.role,
			Factory:          peer.NewPionFactory(cfg.WebRTC),
			Capture:          captureFactory(cfg.WebRTC),
			Signaler:         coord,
			Sink:             sync,
			Timeout:          cfg.WebRTC.NegotiationTimeout,
			DataChannelLabel: cfg.WebRTC.DataChannelLabel,
			Logger:           log,
		})
		for _, t := range []model.MessageType{model.MessageTypeOffer, model.MessageTypeAnswer, model.MessageTypeICECandidate} {
			coord.Subscribe(t, neg.HandleEnvelope, router.WithName("negotiation"))
		}
		coord.Subscribe(model.MessageTypeRoleAssignment, peerTracker(ctx, coord, neg, log), router.WithName("peers"))
		sync.SetControlPath(neg)
		coord.AddCloser(neg)
	}

	if err := coord.Connect(ctx, opts.role); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to join: %w", err)
	}
	defer coord.Close()

	out := &printer{w: os.Stdout, json: viper.GetBool("json")}

	var lines <-chan string
	if opts.role == model.RoleSource {
		lines = readLines(os.Stdin)
		fmt.Fprintln(os.Stderr, `type "help" for commands`)
	}

	var tick <-chan time.Time
	if opts.advance > 0 && opts.role == model.RoleSource {
		t := time.NewTicker(opts.advance)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-coord.Events():
			if !ok {
				return nil
			}
			out.connection(ev)
			switch ev.Kind {
			case coordinator.EventOpen:
				if ev.Role == model.RoleSource {
					if err := sync.Announce(); err != nil {
						log.Warn("failed to announce playback state", "error", err)
					}
				}
			case coordinator.EventDisconnected:
				if ev.Err != nil {
					return ev.Err
				}
				return coordinator.ErrAttemptsExhausted
			}

		case ev := <-sync.Events():
			out.playback(ev)

		case <-tick:
			if err := sync.Advance(); err != nil {
				log.Debug("advance failed", "error", err)
			}

		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			cmd, err := parseCommand(line)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				continue
			}
			switch cmd.kind {
			case cmdHelp:
				fmt.Fprintln(os.Stderr, commandHelp)
				continue
			case cmdState:
				out.view(sync.Snapshot())
				continue
			}
			if _, role := coord.Identity(); role != model.RoleSource && cmd.kind != cmdQuit {
				fmt.Fprintf(os.Stderr, "assigned role is %s, playback is read-only\n", role)
				continue
			}
			if err := execute(sync, cmd); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintln(os.Stderr, err)
			}
		}
	}
}

// peerTracker offers a peer connection to every participant that joins while
// this client is the source, and drops negotiations with departed ones.
func peerTracker(ctx context.Context, coord *coordinator.Coordinator, neg *peer.Negotiator, log *slog.Logger) router.Handler {
	return func(env *model.Envelope) error {
		var ra model.RoleAssignment
		if err := env.Decode(&ra); err != nil {
			return err
		}
		self, role := coord.Identity()
		if ra.ClientID == "" || ra.ClientID == self {
			return nil
		}

		if ra.Status == model.AssignmentDeparted {
			neg.Remove(ra.ClientID)
			return nil
		}
		if role != model.RoleSource {
			return nil
		}
		if state, ok := neg.State(ra.ClientID); ok && !state.Terminal() {
			return nil
		}

		go func(peerID string) {
			if err := neg.Offer(ctx, peerID); err != nil {
				log.Warn("failed to offer peer connection", "peer", peerID, "error", err)
			}
		}(ra.ClientID)
		return nil
	}
}

func captureFactory(cfg config.WebRTCConfig) peer.CaptureFactory {
	return func(peerID string) (peer.CaptureSource, error) {
		c, err := peer.NewSampleCapture(peerID, cfg.CaptureWidth, cfg.CaptureHeight, cfg.CaptureFrameRate)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// printer renders connection and playback events as text lines or JSON
// objects, one per line.
type printer struct {
	w    io.Writer
	json bool
}

func (p *printer) connection(ev coordinator.Event) {
	if p.json {
		rec := map[string]any{"event": ev.Kind, "attempt": ev.Attempt, "clientId": ev.ClientID, "role": ev.Role}
		if ev.Err != nil {
			rec["error"] = ev.Err.Error()
		}
		p.encode(rec)
		return
	}

	line := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), ev.Kind)
	switch ev.Kind {
	case coordinator.EventOpen:
		line += fmt.Sprintf(" as %s (%s)", ev.ClientID, ev.Role)
	case coordinator.EventConnecting, coordinator.EventReconnecting:
		line += fmt.Sprintf(" attempt %d", ev.Attempt)
	}
	if ev.Err != nil {
		line += ": " + ev.Err.Error()
	}
	fmt.Fprintln(p.w, line)
}

func (p *printer) playback(ev playback.Event) {
	if p.json {
		p.encode(map[string]any{"event": ev.Kind, "view": ev.View})
		return
	}
	fmt.Fprintf(p.w, "[%s] %s %s\n", time.Now().Format("15:04:05"), ev.Kind, formatView(ev.View))
}

func (p *printer) view(v playback.View) {
	if p.json {
		p.encode(v)
		return
	}
	fmt.Fprintln(p.w, formatView(v))
}

func (p *printer) encode(v any) {
	_ = json.NewEncoder(p.w).Encode(v)
}

func formatView(v playback.View) string {
	if !v.Initialized {
		return "waiting for source"
	}
	st := v.State
	var b strings.Builder
	fmt.Fprintf(&b, "index=%d phase=%s speed=%gx mode=%s", st.Index, v.Phase, st.Speed, st.Mode)
	if st.HighlightedEntity != "" {
		fmt.Fprintf(&b, " entity=%s(%s)", st.HighlightedEntity, st.EntityStatus)
	}
	if v.Stale {
		b.WriteString(" [stale]")
	}
	return b.String()
}
