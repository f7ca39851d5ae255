package logger

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/rs/zerolog"
)

const maxRelayLine = 1024 * 1024

// Relay copies log lines from a worker process into logger until r is
// exhausted. JSON lines keep their message and level; anything else is
// logged verbatim. Everything is emitted at debug level, except worker
// errors which stay visible at warn.
func Relay(r io.Reader, logger zerolog.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRelayLine)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry map[string]interface{}
		if err := json.Unmarshal(line, &entry); err != nil {
			logger.Debug().Str("line", string(line)).Msg("worker output")
			continue
		}

		msg, _ := entry[zerolog.MessageFieldName].(string)
		level, _ := entry[zerolog.LevelFieldName].(string)
		delete(entry, zerolog.MessageFieldName)
		delete(entry, zerolog.LevelFieldName)
		delete(entry, zerolog.TimestampFieldName)

		ev := logger.Debug()
		if level == zerolog.LevelErrorValue || level == zerolog.LevelFatalValue || level == zerolog.LevelPanicValue {
			ev = logger.Warn()
		}
		ev.Str("worker_level", level).Fields(entry).Msg(msg)
	}

	return scanner.Err()
}
