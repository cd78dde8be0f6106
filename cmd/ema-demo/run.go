package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	orchestration "github.com/koscakluka/ema-demo/core"
	"github.com/koscakluka/ema-demo/core/audio/miniaudio"
	"github.com/koscakluka/ema-demo/core/audio/portaudio"
	"github.com/koscakluka/ema-demo/core/events"
	"github.com/koscakluka/ema-demo/core/planners/gemini"
	"github.com/koscakluka/ema-demo/core/planners/groq"
	"github.com/koscakluka/ema-demo/core/planning"
	sttdeepgram "github.com/koscakluka/ema-demo/core/speechtotext/deepgram"
	"github.com/koscakluka/ema-demo/core/surface/playwright"
	"github.com/koscakluka/ema-demo/core/texttospeech"
	ttsdeepgram "github.com/koscakluka/ema-demo/core/texttospeech/deepgram"
	"github.com/koscakluka/ema-demo/internal/config"
	"github.com/spf13/cobra"
)

const (
	portaudioBufferSize = 512
	eventBuffer         = 256
)

var errMissingURL = errors.New("a target url is required, use --url or demo.url")

// demoPlanner is implemented by every planner backend.
type demoPlanner interface {
	orchestration.Planner
	orchestration.CommandPlanner
	orchestration.QuestionAnswerer
	orchestration.KnowledgeBuilder
}

type audioDevice interface {
	orchestration.AudioInput
	texttospeech.AudioOutput
	Close()
}

// sessionControl is the part of the orchestrator an operator can drive.
type sessionControl interface {
	SendTranscript(text string)
	Pause()
	Resume()
	Stop()
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a demo session",
		Long: `Start a demo session against --url. Speak (or type) a question or a
command to pause the demo, "resume" to continue, "stop demo" to end it.`,
		RunE: runDemo,
	}

	cmd.Flags().String("url", "", "website to demonstrate")
	cmd.Flags().String("goal", "", "what the demo should show")
	cmd.Flags().String("username", "", "login used when the demo has to sign in")
	cmd.Flags().String("password", "", "password used when the demo has to sign in")
	cmd.Flags().String("planner", "", "planner provider (gemini or groq)")
	cmd.Flags().String("model", "", "planner model")
	cmd.Flags().String("audio-backend", "", "audio backend (miniaudio or portaudio)")
	cmd.Flags().Bool("no-speech", false, "run without microphone and voice")
	cmd.Flags().Bool("headless", false, "hide the browser window")
	cmd.Flags().Bool("install", false, "install the browser driver before launching")
	cmd.Flags().Bool("tui", false, "show the interactive terminal view")
	return cmd
}

func runDemo(cmd *cobra.Command, _ []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Demo.URL == "" {
		return errMissingURL
	}
	useTUI, err := cmd.Flags().GetBool("tui")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	planner, err := newPlanner(ctx, cfg.Planner)
	if err != nil {
		return err
	}

	browser, err := launchBrowser(cfg.Browser)
	if err != nil {
		return err
	}

	opts := []orchestration.OrchestratorOption{
		orchestration.WithControlSurface(browser),
		orchestration.WithPlanner(planner),
		orchestration.WithCommandPlanner(planner),
		orchestration.WithQuestionAnswerer(planner),
		orchestration.WithKnowledgeBuilder(planner),
	}
	opts = append(opts, cfg.Timings.OrchestratorOptions()...)

	if cfg.Speech.Enabled {
		speechOpts, err := newSpeech(cfg.Speech)
		if err != nil {
			if closeErr := browser.Close(); closeErr != nil {
				logger.Warn("Failed to close browser", "error", closeErr)
			}
			return err
		}
		opts = append(opts, speechOpts...)
	}

	// The orchestrator owns the browser and audio device from here on.
	orchestrator := orchestration.NewOrchestrator(opts...)
	defer orchestrator.Close()

	feed := make(chan events.Event, eventBuffer)
	target := orchestration.SessionTarget{
		URL:  cfg.Demo.URL,
		Goal: cfg.Demo.Goal,
		Credentials: planning.Credentials{
			Username: cfg.Demo.Username,
			Password: cfg.Demo.Password,
		},
	}
	if err := orchestrator.Orchestrate(ctx, target, orchestration.WithEventCallback(forwardTo(feed))); err != nil {
		return fmt.Errorf("failed to start demo: %w", err)
	}

	done := make(chan orchestration.SessionSummary, 1)
	go func() { done <- orchestrator.Wait() }()

	var summary orchestration.SessionSummary
	if useTUI {
		summary, err = runTUI(orchestrator, feed, done)
		if err != nil {
			return err
		}
	} else {
		go readTranscripts(cmd.InOrStdin(), orchestrator)
		summary = printEvents(cmd.OutOrStdout(), feed, done)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "session %s ended (%s) after %d loop(s) in %s\n",
		summary.ID, summary.EndReason, summary.Loops, summary.Duration.Round(time.Millisecond))
	return nil
}

func loadRunConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	stringFlags := map[string]*string{
		"url":           &cfg.Demo.URL,
		"goal":          &cfg.Demo.Goal,
		"username":      &cfg.Demo.Username,
		"password":      &cfg.Demo.Password,
		"planner":       &cfg.Planner.Provider,
		"model":         &cfg.Planner.Model,
		"audio-backend": &cfg.Speech.AudioBackend,
	}
	for name, field := range stringFlags {
		if flags.Changed(name) {
			if *field, err = flags.GetString(name); err != nil {
				return config.Config{}, err
			}
		}
	}
	boolFlags := map[string]*bool{
		"headless": &cfg.Browser.Headless,
		"install":  &cfg.Browser.Install,
	}
	for name, field := range boolFlags {
		if flags.Changed(name) {
			if *field, err = flags.GetBool(name); err != nil {
				return config.Config{}, err
			}
		}
	}
	if noSpeech, _ := flags.GetBool("no-speech"); noSpeech {
		cfg.Speech.Enabled = false
	}

	return cfg, cfg.Validate()
}

func newPlanner(ctx context.Context, cfg config.Planner) (demoPlanner, error) {
	switch cfg.Provider {
	case "groq":
		var opts []groq.ClientOption
		if cfg.Model != "" {
			opts = append(opts, groq.WithModel(cfg.Model))
		}
		client, err := groq.NewClient(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create groq planner: %w", err)
		}
		return client, nil
	default:
		var opts []gemini.ClientOption
		if cfg.Model != "" {
			opts = append(opts, gemini.WithModel(cfg.Model))
		}
		client, err := gemini.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini planner: %w", err)
		}
		return client, nil
	}
}

func launchBrowser(cfg config.Browser) (*playwright.Browser, error) {
	opts := []playwright.BrowserOption{
		playwright.WithHeadless(cfg.Headless),
		playwright.WithViewport(cfg.Width, cfg.Height),
	}
	if cfg.Install {
		opts = append(opts, playwright.WithInstall())
	}
	browser, err := playwright.Launch(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return browser, nil
}

// newSpeech opens the audio device and builds the voice clients on top of
// it. The device is handed over as the audio input, so closing the
// orchestrator closes it.
func newSpeech(cfg config.Speech) ([]orchestration.OrchestratorOption, error) {
	device, err := openAudio(cfg.AudioBackend)
	if err != nil {
		return nil, err
	}

	rendererOpts := []ttsdeepgram.RendererOption{
		ttsdeepgram.WithRenderOptions(texttospeech.WithEncodingInfo(device.EncodingInfo())),
	}
	if cfg.Voice != "" {
		rendererOpts = append(rendererOpts, ttsdeepgram.WithVoice(ttsdeepgram.Voice(cfg.Voice)))
	}
	renderer, err := ttsdeepgram.NewRenderer(device, rendererOpts...)
	if err != nil {
		device.Close()
		return nil, fmt.Errorf("failed to create speech renderer: %w", err)
	}

	transcriber := sttdeepgram.NewTranscriptionClient(sttdeepgram.WithLanguage(cfg.Language))

	return []orchestration.OrchestratorOption{
		orchestration.WithSpeechRenderer(renderer),
		orchestration.WithSpeechToTextClient(transcriber),
		orchestration.WithAudioInput(device),
	}, nil
}

func openAudio(backend string) (audioDevice, error) {
	switch backend {
	case "portaudio":
		client, err := portaudio.NewClient(portaudioBufferSize)
		if err != nil {
			return nil, fmt.Errorf("failed to open portaudio device: %w", err)
		}
		return client, nil
	default:
		client, err := miniaudio.NewClient()
		if err != nil {
			return nil, fmt.Errorf("failed to open miniaudio device: %w", err)
		}
		return client, nil
	}
}

// forwardTo returns an event callback that never blocks the session. Events
// are dropped when the consumer falls behind.
func forwardTo(feed chan<- events.Event) func(events.Event) {
	return func(event events.Event) {
		select {
		case feed <- event:
		default:
			logger.Debug("Dropped session event", "kind", event.Kind())
		}
	}
}

// readTranscripts treats every line of input as something the user said.
// Lines starting with a slash drive the session directly.
func readTranscripts(in io.Reader, session sessionControl) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "/pause":
			session.Pause()
		case "/resume":
			session.Resume()
		case "/stop":
			session.Stop()
		default:
			session.SendTranscript(line)
		}
	}
}

func printEvents(out io.Writer, feed <-chan events.Event, done <-chan orchestration.SessionSummary) orchestration.SessionSummary {
	for {
		select {
		case event := <-feed:
			printEvent(out, event)
		case summary := <-done:
			for {
				select {
				case event := <-feed:
					printEvent(out, event)
				default:
					return summary
				}
			}
		}
	}
}

func printEvent(out io.Writer, event events.Event) {
	if line := describe(event); line != "" {
		fmt.Fprintf(out, "%s  %s\n", event.Timestamp().Format("15:04:05"), line)
	}
}
