// Package log provides structured, colored logging for the Agriblock node.
package log

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Component loggers for different parts of the system.
var (
	Chain     zerolog.Logger
	P2P       zerolog.Logger
	RPC       zerolog.Logger
	Consensus zerolog.Logger
	Mempool   zerolog.Logger
	Storage   zerolog.Logger
	Miner     zerolog.Logger
	Node      zerolog.Logger
)

// Options configures Init.
type Options struct {
	Level      string
	JSON       bool
	File       string // empty disables file output
	MaxSizeMB  int    // rotate after this many megabytes
	MaxBackups int    // rotated files to keep
}

// output is the destination of the global loggers. Init and SetOutput
// swap its target; the loggers themselves are built once.
var output = &switchWriter{w: zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}}

// fileWriter is the rotating log file, if any. Guarded by output.mu.
var fileWriter *lumberjack.Logger

func init() {
	Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	initComponentLoggers()
}

// switchWriter serializes writes to a replaceable writer.
type switchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *switchWriter) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lw, ok := s.w.(zerolog.LevelWriter); ok {
		return lw.WriteLevel(l, p)
	}
	return s.w.Write(p)
}

// swap installs w and a new rotating file, returning the previous file.
func (s *switchWriter) swap(w io.Writer, file *lumberjack.Logger) *lumberjack.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w = w
	old := fileWriter
	fileWriter = file
	return old
}

// Init configures the global logger. With a file, logs go to both the
// console (colored or JSON) and a size-rotated file that is always JSON.
func Init(opts Options) error {
	var console io.Writer = os.Stdout
	if !opts.JSON {
		console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	var (
		w    = console
		file *lumberjack.Logger
	)
	if opts.File != "" {
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		}
		w = zerolog.MultiLevelWriter(console, file)
	}

	zerolog.SetGlobalLevel(ParseLevel(opts.Level))
	if old := output.swap(w, file); old != nil {
		return old.Close()
	}
	return nil
}

// Close flushes and closes the log file, if one is open.
func Close() error {
	output.mu.Lock()
	defer output.mu.Unlock()
	if fileWriter == nil {
		return nil
	}
	err := fileWriter.Close()
	fileWriter = nil
	return err
}

// ParseLevel converts a level name to a zerolog.Level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func initComponentLoggers() {
	Chain = withComponent("chain")
	P2P = withComponent("p2p")
	RPC = withComponent("rpc")
	Consensus = withComponent("consensus")
	Mempool = withComponent("mempool")
	Storage = withComponent("storage")
	Miner = withComponent("miner")
	Node = withComponent("node")
}

// withComponent returns a logger with a component field.
func withComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// SetOutput redirects every logger to w as JSON. Intended for tests.
func SetOutput(w io.Writer, level string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	if old := output.swap(w, nil); old != nil {
		old.Close()
	}
}
