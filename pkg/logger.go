package pkg

import (
	"io"
	"log"
	"os"
)

type LogLevel int

const (
	LogLevelNone LogLevel = iota
	LogLevelErrOnly
	LogLevelDebug
)

var (
	log_level = LogLevelErrOnly
	log_file  io.Writer
)

// SetLogFile tees every enabled logger into w on top of its console stream.
// Must be called before SetLogLevel to take effect.
func SetLogFile(w io.Writer) { log_file = w }

func SetLogLevel(level LogLevel) {
	log_level = level

	out := func(console io.Writer) io.Writer {
		if log_file == nil {
			return console
		}
		return io.MultiWriter(console, log_file)
	}

	switch level {
	case LogLevelNone:
		info_logger.SetOutput(io.Discard)
		error_logger.SetOutput(io.Discard)
		fatal_logger.SetOutput(io.Discard)
		warn_logger.SetOutput(io.Discard)
		debug_logger.SetOutput(io.Discard)
	case LogLevelErrOnly:
		error_logger.SetOutput(out(os.Stderr))
		fatal_logger.SetOutput(out(os.Stderr))

		info_logger.SetOutput(io.Discard)
		warn_logger.SetOutput(io.Discard)
		debug_logger.SetOutput(io.Discard)
	case LogLevelDebug:
		error_logger.SetOutput(out(os.Stderr))
		fatal_logger.SetOutput(out(os.Stderr))

		info_logger.SetOutput(out(os.Stdout))
		warn_logger.SetOutput(out(os.Stdout))
		debug_logger.SetOutput(out(os.Stdout))
	}
}

var (
	info_logger  = log.New(os.Stdout, "INFO: ", log.Lshortfile|log.LstdFlags)
	error_logger = log.New(os.Stderr, "ERROR: ", log.Lshortfile|log.LstdFlags)
	fatal_logger = log.New(os.Stderr, "FATAL: ", log.Lshortfile|log.LstdFlags)
	warn_logger  = log.New(os.Stdout, "WARN: ", log.Lshortfile|log.LstdFlags)
	debug_logger = log.New(os.Stdout, "DEBUG: ", log.Lshortfile|log.LstdFlags)
)

var (
	InfoLog  = info_logger.Println
	ErrorLog = error_logger.Println
	FatalLog = fatal_logger.Fatalln
	WarnLog  = warn_logger.Println
	DebugLog = debug_logger.Println
)
