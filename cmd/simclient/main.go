// Command simclient drives a running interview server with synthetic camera
// frames and client-side transcripts. It answers every interviewer question
// and ends the interview after a fixed number of answers.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var answers = []string{
	"I led the migration of our billing service to an event driven design.",
	"The hardest part was replaying two years of invoices without double charging anyone.",
	"We wrote down both proposals and benchmarked them before deciding.",
	"I would like to own a platform team and mentor newer engineers.",
}

type options struct {
	server    string
	candidate string
	name      string
	role      string
	minutes   int
	turns     int
	fps       int
	slouchAt  time.Duration
	slouchFor time.Duration
	verbose   bool
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type startResponse struct {
	SessionID     string  `json:"session_id"`
	Token         string  `json:"token"`
	BudgetSeconds float64 `json:"budget_seconds"`
}

func main() {
	opts := options{}
	rootCmd := &cobra.Command{
		Use:   "simclient",
		Short: "Simulate a candidate against a running interview server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
		SilenceUsage: true,
	}

	flags := rootCmd.Flags()
	flags.StringVar(&opts.server, "server", "http://localhost:8080", "server base URL")
	flags.StringVar(&opts.candidate, "candidate", "sim-candidate", "candidate ID")
	flags.StringVar(&opts.name, "name", "Sim Candidate", "candidate name")
	flags.StringVar(&opts.role, "role", "backend engineer", "target role")
	flags.IntVar(&opts.minutes, "minutes", 5, "interview budget in minutes")
	flags.IntVar(&opts.turns, "turns", 3, "answers to give before ending the interview")
	flags.IntVar(&opts.fps, "fps", 10, "camera frames per second")
	flags.DurationVar(&opts.slouchAt, "slouch-at", 5*time.Second, "when bad posture starts")
	flags.DurationVar(&opts.slouchFor, "slouch-for", 12*time.Second, "how long bad posture lasts")
	flags.BoolVar(&opts.verbose, "verbose", false, "log every notification")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type simulator struct {
	opts    options
	conn    *websocket.Conn
	writeMu sync.Mutex
	logger  *zap.Logger
	started time.Time
	answers int
}

func run(ctx context.Context, opts options) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()

	session, err := startInterview(ctx, opts)
	if err != nil {
		return err
	}
	logger.Info("Interview started",
		zap.String("sessionID", session.SessionID),
		zap.Float64("budgetSeconds", session.BudgetSeconds))

	wsURL, err := websocketURL(opts.server, session.Token)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect websocket: %w", err)
	}
	defer conn.Close()

	sim := &simulator{opts: opts, conn: conn, logger: logger, started: time.Now()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sim.streamFrames(gctx)
	})
	g.Go(func() error {
		return sim.readLoop(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		// Unblock the reader
		_ = conn.Close()
		return nil
	})

	err = g.Wait()
	if errors.Is(err, errSessionEnded) {
		return nil
	}
	return err
}

func startInterview(ctx context.Context, opts options) (*startResponse, error) {
	body, err := json.Marshal(map[string]interface{}{
		"candidate_id":   opts.candidate,
		"candidate_name": opts.name,
		"target_role":    opts.role,
		"budget_minutes": opts.minutes,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(opts.server, "/")+"/api/v1/interviews", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to start interview: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var msg bytes.Buffer
		_, _ = msg.ReadFrom(resp.Body)
		return nil, fmt.Errorf("start interview returned %d: %s", resp.StatusCode, strings.TrimSpace(msg.String()))
	}

	var res startResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("failed to decode start response: %w", err)
	}
	return &res, nil
}

func websocketURL(server, token string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

var errSessionEnded = errors.New("session ended")

func (s *simulator) send(msgType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(envelope{Type: msgType, Payload: raw})
}

// streamFrames sends camera observations with a window of bad posture
func (s *simulator) streamFrames(ctx context.Context) error {
	if s.opts.fps <= 0 {
		return nil
	}
	ticker := time.NewTicker(time.Second / time.Duration(s.opts.fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			elapsed := now.Sub(s.started)
			slouching := elapsed >= s.opts.slouchAt && elapsed < s.opts.slouchAt+s.opts.slouchFor
			err := s.send("frame", map[string]interface{}{
				"timestamp_ms":     float64(elapsed.Milliseconds()),
				"face_present":     true,
				"pose_present":     true,
				"hand_present":     false,
				"eye_contact_lost": false,
				"posture_bad":      slouching,
			})
			if err != nil {
				return fmt.Errorf("failed to send frame: %w", err)
			}
		}
	}
}

func (s *simulator) readLoop(ctx context.Context) error {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connection closed: %w", err)
		}
		if messageType == websocket.BinaryMessage {
			// Synthesized interviewer audio, not played back here
			continue
		}
		var msg envelope
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("Invalid message from server", zap.Error(err))
			continue
		}
		if err := s.handle(ctx, msg); err != nil {
			return err
		}
	}
}

func (s *simulator) handle(ctx context.Context, msg envelope) error {
	if s.opts.verbose {
		s.logger.Debug("Notification", zap.String("type", msg.Type), zap.ByteString("payload", msg.Payload))
	}

	switch msg.Type {
	case "speaking_start":
		var p struct {
			UtteranceID string `json:"utterance_id"`
			Text        string `json:"text"`
			ServerAudio bool   `json:"server_audio"`
		}
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		s.logger.Info("Interviewer", zap.String("text", p.Text))
		if !p.ServerAudio {
			// Pretend to read the question aloud
			go func() {
				select {
				case <-ctx.Done():
				case <-time.After(readingTime(p.Text)):
					_ = s.send("speech_ended", map[string]string{"utterance_id": p.UtteranceID})
				}
			}()
		}

	case "audio_end":
		s.logger.Debug("Server audio finished")

	case "capture_start":
		if s.answers >= s.opts.turns {
			return s.send("end", struct{}{})
		}
		answer := answers[s.answers%len(answers)]
		s.answers++
		go s.speak(ctx, answer)

	case "auto_submitted":
		var p struct {
			Text string `json:"text"`
		}
		_ = json.Unmarshal(msg.Payload, &p)
		s.logger.Info("Answer submitted", zap.String("text", p.Text))

	case "feedback":
		var p struct {
			Dimension string `json:"dimension"`
			Text      string `json:"text"`
		}
		_ = json.Unmarshal(msg.Payload, &p)
		s.logger.Info("Feedback", zap.String("dimension", p.Dimension), zap.String("text", p.Text))

	case "error":
		s.logger.Warn("Server error", zap.ByteString("payload", msg.Payload))

	case "session_ended":
		s.logger.Info("Session ended", zap.ByteString("payload", msg.Payload))
		return errSessionEnded
	}
	return nil
}

// speak streams an answer as interim transcripts followed by a final one
func (s *simulator) speak(ctx context.Context, answer string) {
	words := strings.Fields(answer)
	for i := range words {
		select {
		case <-ctx.Done():
			return
		case <-time.After(250 * time.Millisecond):
		}
		final := i == len(words)-1
		err := s.send("transcript", map[string]interface{}{
			"text":       strings.Join(words[:i+1], " "),
			"final":      final,
			"confidence": 0.9,
		})
		if err != nil {
			s.logger.Warn("Failed to send transcript", zap.Error(err))
			return
		}
	}
}

func readingTime(text string) time.Duration {
	return time.Duration(len(strings.Fields(text))) * 150 * time.Millisecond
}
