package hart

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// NewTraceLogger opens filename (truncating it) for per-block trace lines.
// The returned closer closes the file.
func NewTraceLogger(filename string) (*logrus.Logger, io.Closer, error) {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return nil, nil, err
	}
	l := logrus.New()
	l.SetOutput(file)
	l.SetLevel(logrus.TraceLevel)
	l.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	return l, file, nil
}
