package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/disintegration/imaging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	imageoverlay "github.com/menta2k/image-overlay"
	"github.com/menta2k/image-overlay/internal/config"
	"github.com/menta2k/image-overlay/pkg/document"
	"github.com/menta2k/image-overlay/pkg/encoding"
	"github.com/menta2k/image-overlay/pkg/recognition"
	"github.com/menta2k/image-overlay/pkg/session"
)

var logLevel = new(slog.LevelVar)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	root := newRootCmd()
	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(imageoverlay.Version),
		fang.WithNotifySignal(os.Interrupt, os.Kill),
	); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "image-overlay",
		Short: "Image recognition and translation overlay engine",
		Long: `image-overlay watches a document of images, runs each one through a
recognition+translation backend, and maintains text overlays that stay
consistent as images come, go, and reload.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default: "+config.GetConfigPath()+")")
	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newProcessCmd(&configPath))

	return cmd
}

// loadConfig reads the persisted options once at startup
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newRecognizer builds the configured recognition backend
func newRecognizer(cfg *config.Config) (recognition.Recognizer, error) {
	switch cfg.Backend.Name {
	case "ollama":
		return recognition.NewOllamaClient(cfg.Backend.URL, cfg.Backend.Model)
	case "tesseract":
		return recognition.NewTesseractClient(cfg.Backend.Language)
	default:
		return recognition.NewClient(cfg.Backend.URL)
	}
}

func newEngine(cfg *config.Config) (*imageoverlay.Engine, error) {
	recognizer, err := newRecognizer(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend: %w", cfg.Backend.Name, err)
	}
	return imageoverlay.NewWithConfig(session.Config{
		Document:   document.New(),
		Recognizer: recognizer,
		Adapter: encoding.NewWithConfig(encoding.Config{
			Format:      cfg.Encoding.Format,
			MaxSendSize: cfg.Encoding.MaxSendSize,
			Quality:     cfg.Encoding.Quality,
			Lossless:    cfg.Encoding.Lossless,
		}),
		Options:  cfg.Options,
		LogLevel: logLevel,
	}), nil
}

// populateDocument adds every image file under dir as a document element
func populateDocument(doc *document.Document, dir string) (int, error) {
	added := 0
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !isImageFile(path) {
			return err
		}
		img, err := imaging.Open(path)
		if err != nil {
			slog.Warn("skipping unreadable image", "path", path, "err", err)
			return nil
		}
		el := document.NewLoadedImage(path, img)
		if err := doc.AppendChild(doc.Root(), el); err != nil {
			return err
		}
		added++
		return nil
	})
	return added, err
}

func isImageFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".webp":
		return true
	}
	return false
}

func newServeCmd(configPath *string) *cobra.Command {
	var port string
	var imageDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the overlay engine with an HTTP command surface",
		Long: `Starts the overlay engine over a document populated from a directory
of image files and exposes the inbound command surface as an HTTP JSON
endpoint.`,
		Example: `  # Serve the images in ./pages on the default port
  image-overlay serve --images ./pages

  # Send a command
  curl -d '{"name":"show-original-text"}' http://localhost:8877/command`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			engine, err := newEngine(cfg)
			if err != nil {
				return err
			}

			if imageDir != "" {
				n, err := populateDocument(engine.Document(), imageDir)
				if err != nil {
					return err
				}
				slog.Info("document populated", "images", n)
			}

			engine.Enable()
			defer engine.Disable()

			mux := http.NewServeMux()
			mux.HandleFunc("/command", handleCommand(engine))
			mux.HandleFunc("/overlays", handleOverlays(engine))
			mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
				if _, err := w.Write([]byte("OK")); err != nil {
					slog.Error("Unable to write healthcheck", "err", err)
				}
			})

			addr := ":" + port
			server := &http.Server{
				Addr:    addr,
				Handler: mux,
			}

			serverErr := make(chan error, 1)
			go func() {
				slog.Info("overlay engine serving", "addr", addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			select {
			case <-cmd.Context().Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&port, "port", "8877", "port to listen on")
	cmd.Flags().StringVar(&imageDir, "images", "", "directory of images to populate the document with")

	return cmd
}

func handleCommand(engine *imageoverlay.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var cmd session.Command
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := engine.HandleCommand(r.Context(), cmd); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// overlayView is the JSON shape of one live overlay entry
type overlayView struct {
	Element string    `json:"element"`
	Boxes   []boxView `json:"boxes"`
}

type boxView struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	IsError  bool    `json:"is_error"`
	X0       float64 `json:"x0"`
	Y0       float64 `json:"y0"`
	X1       float64 `json:"x1"`
	Y1       float64 `json:"y1"`
	FontSize float64 `json:"font_size"`
	Color    string  `json:"color"`
}

func handleOverlays(engine *imageoverlay.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var views []overlayView
		for _, entry := range engine.Controller().Registry().Entries() {
			v := overlayView{Element: entry.Element.Attr("src")}
			for _, b := range entry.Boxes {
				v.Boxes = append(v.Boxes, boxView{
					ID:       b.ID,
					Text:     b.Text(),
					IsError:  b.IsError,
					X0:       b.X0,
					Y0:       b.Y0,
					X1:       b.X1,
					Y1:       b.Y1,
					FontSize: b.FontSize,
					Color:    b.Color,
				})
			}
			views = append(views, v)
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(views); err != nil {
			slog.Error("Unable to write overlays", "err", err)
		}
	}
}

func newProcessCmd(configPath *string) *cobra.Command {
	var in string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run one image through the pipeline and print its overlay",
		RunE: func(cmd *cobra.Command, args []string) error {
			if in == "" {
				return fmt.Errorf("--in is required")
			}
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			engine, err := newEngine(cfg)
			if err != nil {
				return err
			}

			img, err := imaging.Open(in)
			if err != nil {
				return fmt.Errorf("failed to load image: %w", err)
			}
			el := document.NewLoadedImage(in, img)
			if err := engine.Document().AppendChild(engine.Document().Root(), el); err != nil {
				return err
			}

			engine.Enable()
			defer engine.Disable()

			// The watcher picked the element up on enable; poll for its
			// entry instead of racing the pipeline goroutine.
			deadline := time.Now().Add(timeout)
			for time.Now().Before(deadline) {
				if len(engine.Controller().Registry().Entries()) > 0 {
					break
				}
				time.Sleep(100 * time.Millisecond)
			}

			entries := engine.Controller().Registry().Entries()
			if len(entries) == 0 {
				return fmt.Errorf("no overlay produced within %s", timeout)
			}
			view := overlayView{Element: in}
			for _, b := range entries[0].Boxes {
				view.Boxes = append(view.Boxes, boxView{
					ID: b.ID, Text: b.Text(), IsError: b.IsError,
					X0: b.X0, Y0: b.Y0, X1: b.X1, Y1: b.Y1,
					FontSize: b.FontSize, Color: b.Color,
				})
			}
			out, err := json.MarshalIndent(view, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&in, "in", "", "input image path")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "time to wait for the pipeline")

	return cmd
}
