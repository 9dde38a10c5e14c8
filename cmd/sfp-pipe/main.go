// Command sfp-pipe hosts one end of an SFP link over a real serial
// device, bridging it to the process's stdin/stdout: bytes typed on
// stdin are reliably delivered to the peer, and payloads the peer
// delivers are written to stdout.
package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"go.bug.st/serial"

	sfp "github.com/xx25/go-sfp"
	"github.com/xx25/go-sfp/internal/audit"
	"github.com/xx25/go-sfp/internal/config"
	"github.com/xx25/go-sfp/internal/telemetry"
)

// serializedSession serializes calls into a *sfp.Session from the two
// independent reader goroutines (serial port, stdin): the engine itself
// is single-threaded per spec.md §5, and the host is responsible for
// that serialization.
type serializedSession struct {
	mu   sync.Mutex
	sess *sfp.Session
}

func (s *serializedSession) Deliver(octet byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.Deliver(octet)
}

func (s *serializedSession) Write(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.Write(payload)
}

func (s *serializedSession) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.Connect()
}

func main() {
	configPath := pflag.String("config", "", "Path to a YAML config file")
	config.RegisterFlags(pflag.CommandLine)
	pflag.Parse()

	cfg, err := config.Load(*configPath, pflag.CommandLine)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sfp-pipe: "+err.Error())
		os.Exit(1)
	}

	level := zerolog.InfoLevel
	if cfg.Verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	port, err := openSerial(cfg.SerialPort, cfg.BaudRate)
	if err != nil {
		logger.Fatal().Err(err).Str("port", cfg.SerialPort).Msg("failed to open serial port")
	}
	defer port.Close()
	logger.Info().Str("port", cfg.SerialPort).Int("baud", cfg.BaudRate).Msg("serial port opened")

	sess := sfp.NewSession(&sfp.Config{HistorySize: cfg.HistorySize},
		sfp.WithLogger(logger),
		sfp.WithWriteSink(port.Write),
		sfp.WithDeliverFunc(func(payload []byte) {
			os.Stdout.Write(payload)
			os.Stdout.Write([]byte("\n"))
		}),
		sfp.WithConnectFunc(func() { logger.Info().Msg("link connected") }),
	)

	// An empty AuditDBPath is valid — audit.Open falls back to a default
	// location under the user's state directory.
	if log, err := audit.Open(cfg.AuditDBPath); err != nil {
		logger.Warn().Err(err).Msg("audit log disabled: could not open database")
	} else {
		defer log.Close()
		sess.Observe(log)
		logger.Info().Msg("audit log attached")
	}

	if cfg.RedisAddr != "" {
		if pub, err := telemetry.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, "sfp:"+cfg.SerialPort); err != nil {
			logger.Warn().Err(err).Msg("telemetry disabled: could not reach redis")
		} else {
			defer pub.Close()
			sess.Observe(pub)
			logger.Info().Str("addr", cfg.RedisAddr).Msg("telemetry attached")
		}
	}

	guarded := &serializedSession{sess: sess}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go pumpSerial(port, guarded, logger)
	go pumpStdin(guarded, logger)

	if err := guarded.Connect(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start handshake")
	}

	<-sigCh
	logger.Info().Msg("shutting down")
}

func openSerial(path string, baud int) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return serial.Open(path, mode)
}

// pumpSerial feeds every byte read from the serial port into the
// session.
func pumpSerial(port serial.Port, sess *serializedSession, logger zerolog.Logger) {
	buf := make([]byte, 256)
	for {
		n, err := port.Read(buf)
		if err != nil {
			logger.Error().Err(err).Msg("serial read failed")
			return
		}
		for _, b := range buf[:n] {
			if _, err := sess.Deliver(b); err != nil {
				logger.Warn().Err(err).Msg("deliver rejected")
			}
		}
	}
}

// pumpStdin reads newline-delimited lines from stdin and submits each as
// a reliable application payload.
func pumpStdin(sess *serializedSession, logger zerolog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := sess.Write(scanner.Bytes()); err != nil {
			logger.Error().Err(err).Msg("write failed")
		}
	}
}
