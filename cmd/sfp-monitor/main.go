// Command sfp-monitor attaches the audit and telemetry observers to a
// live SFP link and periodically reports its health — the read-only
// "fleet operator" surface for a link otherwise driven by sfp-pipe or
// an embedded host.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"go.bug.st/serial"

	sfp "github.com/xx25/go-sfp"
	"github.com/xx25/go-sfp/internal/audit"
	"github.com/xx25/go-sfp/internal/config"
	"github.com/xx25/go-sfp/internal/telemetry"
)

func main() {
	configPath := pflag.String("config", "", "Path to a YAML config file")
	reportEvery := pflag.Duration("report-every", 30*time.Second, "Health report interval")
	config.RegisterFlags(pflag.CommandLine)
	pflag.Parse()

	cfg, err := config.Load(*configPath, pflag.CommandLine)
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("sfp-monitor: load config")
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	mode := &serial.Mode{BaudRate: cfg.BaudRate, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	port, err := serial.Open(cfg.SerialPort, mode)
	if err != nil {
		logger.Fatal().Err(err).Str("port", cfg.SerialPort).Msg("failed to open serial port")
	}
	defer port.Close()

	auditLog, err := audit.Open(cfg.AuditDBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open audit database")
	}
	defer auditLog.Close()

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("sfp-monitor requires a redis address for telemetry")
	}
	pub, err := telemetry.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, "sfp:"+cfg.SerialPort)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to reach redis")
	}
	defer pub.Close()

	sess := sfp.NewSession(&sfp.Config{HistorySize: cfg.HistorySize},
		sfp.WithLogger(logger),
		sfp.WithWriteSink(port.Write),
	)
	sess.Observe(auditLog)
	sess.Observe(pub)

	if err := sess.Connect(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start handshake")
	}

	// The serial reader runs on its own goroutine, but only to perform
	// the blocking Read; every byte crosses into the main loop over a
	// channel so that sess itself is only ever touched from one
	// goroutine, satisfying the session's single-threaded contract
	// (spec.md §5) without a mutex.
	octets := make(chan byte, 256)
	go func() {
		defer close(octets)
		buf := make([]byte, 256)
		for {
			n, err := port.Read(buf)
			if err != nil {
				logger.Error().Err(err).Msg("serial read failed")
				return
			}
			for _, b := range buf[:n] {
				octets <- b
			}
		}
	}()

	ticker := time.NewTicker(*reportEvery)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case b, ok := <-octets:
			if !ok {
				logger.Error().Msg("serial port closed")
				return
			}
			if _, err := sess.Deliver(b); err != nil {
				logger.Warn().Err(err).Msg("deliver rejected")
			}
		case <-ticker.C:
			report(context.Background(), logger, sess, auditLog, pub)
		case <-sigCh:
			logger.Info().Msg("shutting down")
			return
		}
	}
}

func report(ctx context.Context, logger zerolog.Logger, sess *sfp.Session, auditLog *audit.Log, pub *telemetry.Publisher) {
	accepted, rejected, err := auditLog.Counts(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to read audit counters")
	}
	snap := pub.Snapshot()

	logger.Info().
		Str("state", sess.ConnectState().String()).
		Int("audit_accepted", accepted).
		Int("audit_rejected", rejected).
		Uint64("telemetry_accepted", snap.Accepted).
		Uint64("telemetry_naks", snap.Naks).
		Uint64("telemetry_rtx_miss", snap.RtxMiss).
		Msg("link health")
}
