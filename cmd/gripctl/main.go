package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ayusman/gripctl/internal/app"
	"github.com/ayusman/gripctl/internal/capture"
	"github.com/ayusman/gripctl/internal/config"
	"github.com/ayusman/gripctl/internal/detector"
	"github.com/ayusman/gripctl/internal/gesture"
	"github.com/ayusman/gripctl/internal/link"
	"github.com/ayusman/gripctl/internal/overlay"
	"github.com/ayusman/gripctl/internal/server"
	"github.com/ayusman/gripctl/internal/store"
	"github.com/ayusman/gripctl/internal/tray"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("gripctl: %v", err)
	}
}

func run(cfg *config.Config) error {
	fmt.Println("gripctl - gesture control for a prosthetic hand")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	journal := openJournal(cfg.JournalPath)
	if journal != nil {
		defer journal.Close()
	}

	classifier, err := app.NewClassifier(cfg.Classifier, journal)
	if err != nil {
		return err
	}

	source, err := newSource(cfg)
	if err != nil {
		return err
	}

	appConfig := app.Config{
		Source:     source,
		Classifier: classifier,
		Link: link.Config{
			WriteTimeout: cfg.WriteTimeout.Std(),
			SettleDelay:  cfg.SettleDelay.Std(),
		},
		Port: cfg.SerialPort,
		Baud: cfg.Baud,
		Stabilizer: gesture.StabilizerConfig{
			ConfirmThreshold: cfg.ConfirmThreshold,
			LossTimeout:      cfg.LossTimeout.Std(),
		},
		AsyncDispatch:     cfg.AsyncDispatch,
		ReconnectInterval: cfg.ReconnectInterval.Std(),
		SourceRetries:     cfg.SourceRetries,
		SourceBackoff:     cfg.SourceBackoff.Std(),
		Journal:           journal,
		ClassifierName:    cfg.Classifier,
	}

	if cfg.Debug {
		ov := overlay.New("gripctl", stop)
		defer ov.Close()
		appConfig.Render = ov.Render
	}

	a, err := app.New(appConfig)
	if err != nil {
		return err
	}

	if cfg.HTTPAddr != "" {
		srv := server.New(server.Config{
			StaticDir: cfg.StaticDir,
			Store:     journal,
			Status:    a,
			Templates: a,
		})
		a.Subscribe(srv.Hub().Publish)
		go func() {
			fmt.Printf("Status API on http://%s/api/status\n", cfg.HTTPAddr)
			if err := srv.Serve(ctx, cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Status server stopped: %v", err)
			}
		}()
	}

	if cfg.SerialPort == "" {
		fmt.Println("No serial port set, running in dry mode")
	} else {
		fmt.Printf("Actuator on %s at %d baud\n", cfg.SerialPort, cfg.Baud)
	}
	if cfg.HTTPAddr != "" && journal != nil {
		fmt.Printf("Record templates with POST http://%s/api/templates {\"gesture\":\"open\"}\n", cfg.HTTPAddr)
	}

	if !cfg.Tray {
		return a.Run(ctx)
	}

	// The tray owns the main thread; the loop runs beside it.
	t := tray.New()
	a.Subscribe(t.Handle)
	t.OnQuit(stop)
	t.OnStatus(func() {
		st := a.Status()
		log.Printf("Status: link %s, confirmed %s, %d ticks, %d commands, %d send failures",
			st.LinkState, st.Confirmed, st.Ticks, st.Events, st.SendFailures)
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx)
		t.Quit()
	}()
	t.Run()
	stop()
	return <-errCh
}

// openJournal opens the dispatch journal, or returns nil when it is
// disabled or cannot be opened.
func openJournal(path string) *store.Store {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.Printf("Journal disabled, cannot create %s: %v", filepath.Dir(path), err)
		return nil
	}
	s, err := store.New(path)
	if err != nil {
		log.Printf("Journal disabled: %v", err)
		return nil
	}
	fmt.Printf("Journal: %s\n", path)
	return s
}

// newSource builds a replay source when a recording is configured, and a
// camera source otherwise.
func newSource(cfg *config.Config) (capture.Source, error) {
	if cfg.Replay != "" {
		f, err := os.Open(cfg.Replay)
		if err != nil {
			return nil, fmt.Errorf("open replay: %w", err)
		}
		defer f.Close()

		hands, err := capture.LoadReplay(f)
		if err != nil {
			return nil, fmt.Errorf("load replay %s: %w", cfg.Replay, err)
		}
		fmt.Printf("Replaying %d frames from %s\n", len(hands), cfg.Replay)
		return capture.NewReplaySource(hands, time.Second/capture.DefaultFPS), nil
	}

	detConfig := detector.DefaultConfig()
	detConfig.MinConfidence = cfg.MinConfidence
	det, err := detector.NewMediaPipeDetector(detConfig)
	if err != nil {
		return nil, fmt.Errorf("hand detector: %w", err)
	}
	log.Println("Using MediaPipe hand detection")

	return capture.NewCameraSource(
		capture.NewCamera(cfg.CameraID),
		det,
		capture.SourceConfig{
			Mirror: cfg.Mirror,
		},
	), nil
}
