package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/audio"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/config"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/device"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/device/portaudio"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/engine"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/logging"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/metrics"
	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/server"
)

const (
	serviceName     = "soundd"
	serviceVersion  = "1.0.0"
	shutdownTimeout = 10 * time.Second
)

var (
	configPath string
	envFile    string
)

func main() {
	server.Version = serviceVersion

	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Real-time audio capture, segmentation and playback daemon",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env file is not an error
			if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to load %s: %w", envFile, err)
			}
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file with SOUNDD_* overrides")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(playCmd())
	rootCmd.AddCommand(resampleCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger, metrics and device backend
func setup() (*config.Config, *slog.Logger, func() error, device.Backend, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	var backend device.Backend
	switch cfg.Capture.Backend {
	case "null":
		backend = &device.Null{}
	default:
		backend = portaudio.New()
	}

	return cfg, logger, closeLog, backend, nil
}

func terminate(backend device.Backend, logger *slog.Logger) {
	if pa, ok := backend.(*portaudio.Backend); ok {
		if err := pa.Terminate(); err != nil {
			logger.Warn("Failed to release audio backend", slog.String("error", err.Error()))
		}
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with its control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closeLog, backend, err := setup()
			if err != nil {
				return err
			}
			defer closeLog()
			defer terminate(backend, logger)

			logger.Info("Service starting",
				slog.String("service", serviceName),
				slog.String("version", serviceVersion),
				slog.String("config_path", configPath),
			)

			logger.Info("Configuration loaded",
				slog.String("capture_source", cfg.Capture.Source),
				slog.String("backend", cfg.Capture.Backend),
				slog.Int("sample_rate", cfg.Capture.SampleRate),
				slog.Int("analysis_rate", cfg.Capture.AnalysisRate),
				slog.Int("chunk_size", cfg.Capture.ChunkSize),
				slog.Int("playback_rate", cfg.Playback.SampleRate),
				slog.Float64("vad_sensitivity", float64(cfg.VAD.Sensitivity)),
				slog.String("storage_root", cfg.Storage.Root),
				slog.Bool("upload_enabled", cfg.Upload.Enabled),
				slog.String("log_level", cfg.Logging.Level),
			)

			appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)

			eng, err := engine.New(cfg, backend, logger, appMetrics)
			if err != nil {
				return fmt.Errorf("failed to create engine: %w", err)
			}

			eng.SetSegmentCallback(func(filename, relativePath string, isManual bool, durationSeconds float64) {
				logger.Info("Segment ready",
					slog.String("filename", filename),
					slog.String("relative_path", relativePath),
					slog.Bool("manual", isManual),
					slog.String("duration", audio.MMSS(durationSeconds)),
				)
			})
			eng.SetManualSilenceCallback(func() {
				logger.Info("Manual segment closed after silence")
			})

			var udpServer *server.UDPServer
			if cfg.Capture.Source == config.SourceNetwork {
				udpServer, err = server.NewUDPServer(&cfg.Network, cfg.Capture.SampleRate, cfg.Capture.ChunkSize, eng, logger, appMetrics)
				if err != nil {
					return fmt.Errorf("failed to create UDP server: %w", err)
				}
				if err := udpServer.Start(); err != nil {
					return err
				}
			}

			var httpServer *server.HTTPServer
			if cfg.HTTP.Enabled {
				httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, eng, udpServer, appMetrics, prometheus.DefaultGatherer)
				if err := httpServer.Start(); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.Capture.Source == config.SourceNetwork {
				if err := eng.StartRecorder(ctx); err != nil {
					logger.Error("Failed to start recorder", slog.String("error", err.Error()))
				}
			}

			logger.Info("Service started successfully, waiting for signals...")
			<-ctx.Done()

			logger.Info("Starting graceful shutdown...")

			if httpServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()

				if err := httpServer.Stop(shutdownCtx); err != nil {
					logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
				}
			}

			if udpServer != nil {
				if err := udpServer.Stop(); err != nil {
					logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
				}
			}

			if err := eng.Close(shutdownTimeout); err != nil {
				logger.Error("Error closing engine", slog.String("error", err.Error()))
			}

			stats := eng.GetStats()
			logger.Info("Service stopped",
				slog.Uint64("segments_completed", stats.Store.Completed),
				slog.Uint64("chunks_processed", stats.Capture.ChunksProcessed),
			)
			return nil
		},
	}
}

func playCmd() *cobra.Command {
	var (
		volume float32
		loop   bool
	)

	cmd := &cobra.Command{
		Use:   "play [wav-file]",
		Short: "Play a WAV file through the output device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closeLog, backend, err := setup()
			if err != nil {
				return err
			}
			defer closeLog()
			defer terminate(backend, logger)

			eng, err := engine.New(cfg, backend, logger, nil)
			if err != nil {
				return fmt.Errorf("failed to create engine: %w", err)
			}
			defer eng.Close(shutdownTimeout)

			if err := eng.InitializePlaybackOnly(); err != nil {
				return err
			}

			ended := make(chan struct{}, 1)
			eng.SetPlaybackEndListener(func() {
				select {
				case ended <- struct{}{}:
				default:
				}
			})
			eng.SetLoopEnabled(loop)
			eng.SetVolume(volume)

			if err := eng.StartPlayer(args[0]); err != nil {
				return err
			}

			fmt.Printf("Playing %s (%s)\n", args[0], audio.MMSS(eng.GetDuration()/1000))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			select {
			case <-ended:
			case <-ctx.Done():
				eng.StopPlayer()
			}
			return nil
		},
	}

	cmd.Flags().Float32Var(&volume, "volume", 1.0, "Playback volume (0-1)")
	cmd.Flags().BoolVar(&loop, "loop", false, "Loop with crossfades until interrupted")
	return cmd
}

func resampleCmd() *cobra.Command {
	var rate int

	cmd := &cobra.Command{
		Use:   "resample [input.wav] [output.wav]",
		Short: "Convert a WAV file to another sample rate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			samples, sourceRate, err := audio.ReadWAVFile(args[0])
			if err != nil {
				return err
			}

			out, err := audio.Resample(samples, sourceRate, rate)
			if err != nil {
				return err
			}

			if err := audio.WriteWAVFile(args[1], out, rate); err != nil {
				return err
			}

			fmt.Printf("%s: %d Hz -> %d Hz, %d frames\n", args[1], sourceRate, rate, len(out))
			return nil
		},
	}

	cmd.Flags().IntVarP(&rate, "rate", "r", 48000, "Target sample rate in Hz")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", serviceName, serviceVersion)
		},
	}
}
