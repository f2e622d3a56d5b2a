// Command voxlingua is the terminal client for spoken language practice. It
// runs a live conversation through the relay (microphone in, model speech
// out) or an offline batch exchange, with translate and phonetics lookups as
// side commands.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/voxlingua/voxlingua/internal/dotenv"
	"github.com/voxlingua/voxlingua/pkg/audio"
	"github.com/voxlingua/voxlingua/pkg/batch"
	"github.com/voxlingua/voxlingua/pkg/lang"
	"github.com/voxlingua/voxlingua/pkg/live"
	"github.com/voxlingua/voxlingua/pkg/store"
)

const micFrameSamples = 1024

type clientConfig struct {
	relayURL    string
	batchURL    string
	helperURL   string
	databaseURL string

	mode     string
	model    string
	voice    string
	system   string
	language string
	native   string
}

func parseFlags(args []string, stderr io.Writer) (clientConfig, error) {
	fs := flag.NewFlagSet("voxlingua", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := clientConfig{}
	fs.StringVar(&cfg.relayURL, "relay", envOr("VOXLINGUA_RELAY_URL", "ws://localhost:8080/live"), "relay websocket URL")
	fs.StringVar(&cfg.batchURL, "batch-url", envOr("VOXLINGUA_BATCH_URL", ""), "batch chat-with-audio base URL")
	fs.StringVar(&cfg.helperURL, "helper-url", envOr("VOXLINGUA_HELPER_URL", ""), "translate/phonetics base URL")
	fs.StringVar(&cfg.databaseURL, "database-url", envOr("VOXLINGUA_DATABASE_URL", ""), "Postgres DSN for the lookup cache")
	fs.StringVar(&cfg.mode, "mode", "live", "conversation mode: live or batch")
	fs.StringVar(&cfg.model, "model", envOr("VOXLINGUA_MODEL", "models/gemini-2.0-flash-live-001"), "model name sent in setup")
	fs.StringVar(&cfg.voice, "voice", envOr("VOXLINGUA_VOICE", "Puck"), "prebuilt voice name")
	fs.StringVar(&cfg.system, "system", envOr("VOXLINGUA_SYSTEM_PROMPT", ""), "system instruction")
	fs.StringVar(&cfg.language, "language", envOr("VOXLINGUA_LANGUAGE", "es"), "practice language code")
	fs.StringVar(&cfg.native, "native", envOr("VOXLINGUA_NATIVE_LANGUAGE", "en"), "native language code")

	if err := fs.Parse(args); err != nil {
		return clientConfig{}, err
	}
	switch cfg.mode {
	case "live", "batch":
	default:
		return clientConfig{}, fmt.Errorf("mode must be live or batch, got %q", cfg.mode)
	}
	if cfg.mode == "batch" && cfg.batchURL == "" {
		return clientConfig{}, errors.New("batch mode requires -batch-url or VOXLINGUA_BATCH_URL")
	}
	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func runClient(ctx context.Context, cfg clientConfig, stdin io.Reader, out, errOut io.Writer) error {
	logger := slog.New(slog.NewTextHandler(errOut, nil))
	scanner := bufio.NewScanner(stdin)

	helper, helperClose, err := buildHelper(ctx, cfg)
	if err != nil {
		return err
	}
	if helperClose != nil {
		defer helperClose()
	}

	orch := live.NewOrchestrator(logger)
	if cfg.mode == "batch" {
		return runBatchMode(ctx, cfg, orch, scanner, out)
	}
	return runLiveMode(ctx, cfg, orch, helper, scanner, out, errOut)
}

func buildHelper(ctx context.Context, cfg clientConfig) (*lang.Client, func(), error) {
	if cfg.helperURL == "" {
		return nil, nil, nil
	}
	var cache lang.KV
	var closer func()
	if cfg.databaseURL != "" {
		st, err := store.New(ctx, cfg.databaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open lookup cache: %w", err)
		}
		cache = st
		closer = st.Close
	}
	return lang.NewClient(cfg.helperURL, http.DefaultClient, cache), closer, nil
}

func runLiveMode(
	ctx context.Context,
	cfg clientConfig,
	orch *live.Orchestrator,
	helper *lang.Client,
	scanner *bufio.Scanner,
	out, errOut io.Writer,
) error {
	sink, err := newFFplaySink()
	if err != nil {
		return err
	}
	defer sink.Close()

	session, err := orch.Start(ctx, live.Config{
		Mode:              live.ModeLive,
		Model:             cfg.model,
		Voice:             cfg.voice,
		SystemInstruction: cfg.system,
		Language:          cfg.language,
		OpenMic: func() (audio.FrameSource, error) {
			return audio.NewMicCapture(micFrameSamples)
		},
		Dial: func(ctx context.Context) (live.Conn, error) {
			c, _, derr := websocket.DefaultDialer.DialContext(ctx, cfg.relayURL, nil)
			if derr != nil {
				return nil, derr
			}
			return c, nil
		},
		Sink: sink,
	})
	if err != nil {
		return err
	}
	defer func() { _, _ = session.Stop(context.Background()) }()

	go printEvents(session, sink, out, errOut)

	fmt.Fprintln(out, "Live conversation started. Commands: /text <msg>, /translate <text>, /phonetics <text>, /stop.")
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/stop" || line == "/quit" || line == "/exit":
			_, err := session.Stop(ctx)
			return err
		case strings.HasPrefix(line, "/text "):
			if err := session.SendText(strings.TrimPrefix(line, "/text ")); err != nil {
				fmt.Fprintf(errOut, "send text: %v\n", err)
			}
		case strings.HasPrefix(line, "/translate "):
			lookupHelper(ctx, helper, out, errOut, func(c *lang.Client) (string, error) {
				return c.Translate(ctx, strings.TrimPrefix(line, "/translate "), cfg.language, cfg.native)
			})
		case strings.HasPrefix(line, "/phonetics "):
			lookupHelper(ctx, helper, out, errOut, func(c *lang.Client) (string, error) {
				return c.Phonetics(ctx, strings.TrimPrefix(line, "/phonetics "), cfg.language, cfg.native)
			})
		default:
			fmt.Fprintln(out, "commands: /text, /translate, /phonetics, /stop")
		}
	}
}

func lookupHelper(ctx context.Context, helper *lang.Client, out, errOut io.Writer, fn func(*lang.Client) (string, error)) {
	if helper == nil {
		fmt.Fprintln(errOut, "helper endpoints not configured (set -helper-url)")
		return
	}
	result, err := fn(helper)
	if err != nil {
		fmt.Fprintf(errOut, "lookup failed: %v\n", err)
		return
	}
	fmt.Fprintln(out, result)
}

func printEvents(session *live.Session, sink *ffplaySink, out, errOut io.Writer) {
	for ev := range session.Events() {
		switch ev.Type {
		case live.EventUserTranscript:
			fmt.Fprintf(out, "[you] %s", ev.Text)
		case live.EventModelTranscript:
			fmt.Fprintf(out, "%s", ev.Text)
		case live.EventTurnComplete:
			if ev.Turn != nil && (ev.Turn.UserText != "" || ev.Turn.ModelText != "") {
				fmt.Fprintln(out)
			}
		case live.EventInterrupted:
			// Stop buffered audio too, not just unscheduled chunks.
			if err := sink.Reset(); err != nil {
				fmt.Fprintf(errOut, "playback reset: %v\n", err)
			}
		case live.EventError:
			fmt.Fprintf(errOut, "session error: %v\n", ev.Err)
		case live.EventStateChanged:
			if ev.State == live.StateClosing || ev.State == live.StateClosed {
				fmt.Fprintf(out, "\n[%s]\n", ev.State)
			}
		}
	}
}

func runBatchMode(
	ctx context.Context,
	cfg clientConfig,
	orch *live.Orchestrator,
	scanner *bufio.Scanner,
	out io.Writer,
) error {
	session, err := orch.Start(ctx, live.Config{
		Mode:              live.ModeBatch,
		Model:             cfg.model,
		SystemInstruction: cfg.system,
		Language:          cfg.language,
		OpenMic: func() (audio.FrameSource, error) {
			return audio.NewMicCapture(micFrameSamples)
		},
		BatchClient: batch.NewClient(cfg.batchURL, nil),
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Recording... press Enter to stop.")
	scanner.Scan()

	result, err := session.Stop(ctx)
	if err != nil {
		if live.IsKind(err, live.ErrSilenceDetected) {
			fmt.Fprintln(out, "No speech detected, nothing sent.")
			return nil
		}
		return err
	}

	fmt.Fprintf(out, "[you] %s\n", result.Transcription)
	if result.LLMResponse != "" {
		fmt.Fprintf(out, "[tutor] %s\n", result.LLMResponse)
	}
	if reply, derr := result.ReplyAudio(); derr == nil && len(reply) > 0 {
		if sink, serr := newFFplaySink(); serr == nil {
			defer sink.Close()
			_ = sink.write(reply)
		}
	}
	return nil
}

func runMain(ctx context.Context, args []string, stdin io.Reader, out, errOut io.Writer) int {
	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(errOut, "voxlingua: %v\n", err)
		return 1
	}
	cfg, err := parseFlags(args, errOut)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(errOut, "voxlingua: %v\n", err)
		return 1
	}
	if err := runClient(ctx, cfg, stdin, out, errOut); err != nil {
		fmt.Fprintf(errOut, "voxlingua: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
