package zerolog

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/goterm/term"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

// Options controls how New renders log lines
type Options struct {
	Level          string
	DateTimeLayout string
	Colored        bool
	JSON           bool
}

// New builds a console (or JSON) zerolog logger wrapped as logger.Logger
func New(opts Options) (*Adapter, error) {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	zerolog.SetGlobalLevel(level)

	if opts.JSON {
		l := zerolog.New(os.Stdout).With().Timestamp().Logger()
		return &Adapter{&l}, nil
	}

	layout := opts.DateTimeLayout
	if layout == "" {
		layout = time.DateTime
	}

	output := zerolog.ConsoleWriter{
		Out:           os.Stdout,
		NoColor:       !opts.Colored,
		TimeFormat:    layout,
		FormatLevel:   formatLevel,
		FormatMessage: formatMessage,
		FormatCaller:  formatCaller,
		FormatTimestamp: func(i interface{}) string {
			return formatTimestamp(i, layout)
		},
	}

	l := log.
		Output(output).
		With().
		CallerWithSkipFrameCount(4).
		Logger()

	return &Adapter{&l}, nil
}

var levelTags = map[string]func(string, ...interface{}) string{
	zerolog.LevelTraceValue: term.Cyanf,
	zerolog.LevelDebugValue: term.Cyanf,
	zerolog.LevelInfoValue:  term.Greenf,
	zerolog.LevelWarnValue:  term.Yellowf,
	zerolog.LevelErrorValue: term.Redf,
	zerolog.LevelFatalValue: term.Redf,
	zerolog.LevelPanicValue: term.Redf,
}

func formatLevel(i interface{}) string {
	level, _ := i.(string)
	colorf, ok := levelTags[level]
	if !ok {
		return term.Whitef("[UNK]")
	}
	return colorf("[%s]", strings.ToUpper(level[:3]))
}

// formatMessage pads or truncates the message so fields line up in a column
func formatMessage(i interface{}) string {
	const width = 72

	msg, ok := i.(string)
	if !ok || msg == "" {
		return ">"
	}

	if len(msg) > width {
		msg = msg[:width]
	}
	return term.Whitef("> %-*s", width, msg)
}

func formatCaller(i interface{}) string {
	fname, ok := i.(string)
	if !ok || fname == "" {
		return ""
	}

	file, line, found := strings.Cut(filepath.Base(fname), ":")
	if !found {
		return file
	}

	if len(file) > 18 {
		file = file[:18]
	}
	return term.Yellowf("[%-18s:%4s]", file, line)
}

func formatTimestamp(i interface{}, layout string) string {
	raw, ok := i.(string)
	if !ok {
		return term.Cyanf("[%v]", i)
	}

	if ts, err := time.ParseInLocation(time.RFC3339, raw, time.Local); err == nil {
		raw = ts.In(time.Local).Format(layout)
	}
	return term.Cyanf("[%s]", raw)
}
