package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

type (
	LogStatus int
	LogLevel  int
)

const (
	VERBOSE LogStatus = iota
	DEBUG
	INFO
	SUCCESS
	NEW
	REMOVE
	STOP
	WARNING
	ERROR
	FATAL
)

var levelNames = map[string]LogStatus{
	"verbose": VERBOSE,
	"debug":   DEBUG,
	"info":    INFO,
	"warning": WARNING,
	"warn":    WARNING,
	"error":   ERROR,
}

func (e LogStatus) String() string {
	return []string{
		"V",
		"D",
		"I",
		"✓",
		"+",
		"-",
		"X",
		"!",
		"!!",
		"PANIC",
	}[e]
}

func (e LogStatus) Color() *color.Color {
	return []*color.Color{
		color.New(color.FgWhite, color.Italic),                //Verbose
		color.New(color.FgWhite, color.Italic),                //Debug
		color.New(color.FgWhite),                              //Info
		color.New(color.FgHiGreen),                            //Success
		color.New(color.FgGreen, color.Italic),                //New
		color.New(color.FgYellow, color.Italic),               //Remove
		color.New(color.FgHiYellow),                           //Stop
		color.New(color.FgYellow, color.Underline),            //Warning
		color.New(color.FgHiRed, color.Bold),                  //Error
		color.New(color.FgHiRed, color.Bold, color.Underline), //PANIC
	}[e]
}

// Level returns the numeric logging level for this status. SUCCESS, NEW, REMOVE
// and STOP are all considered informational.
func (e LogStatus) Level() LogLevel {
	switch e {
	case VERBOSE:
		return 0
	case DEBUG:
		return 1
	case WARNING:
		return 3
	case ERROR:
		return 4
	case FATAL:
		return 5
	default:
		return 2
	}
}

// ParseLevel converts a human level name (as found in config) to
// its numeric level.
func ParseLevel(name string) (LogLevel, error) {
	if status, ok := levelNames[strings.ToLower(strings.TrimSpace(name))]; ok {
		return status.Level(), nil
	}

	return 0, fmt.Errorf("unknown log level '%s'", name)
}

type Logger interface {
	Emit(LogStatus, string, ...any)
	Verbosef(string, ...any)
	Debugf(string, ...any)
	Infof(string, ...any)
	Warnf(string, ...any)
	Errorf(string, ...any)

	// Printf and Fatalf allow a Logger to be handed to goose
	Printf(string, ...any)
	Fatalf(string, ...any)
}

type loggerImpl struct {
	name string
}

func (l *loggerImpl) Emit(status LogStatus, message string, interpolations ...any) {
	Log.Emit(status, l.name, message, interpolations...)
}

func (l *loggerImpl) Verbosef(message string, args ...any) { l.Emit(VERBOSE, message, args...) }
func (l *loggerImpl) Debugf(message string, args ...any)   { l.Emit(DEBUG, message, args...) }
func (l *loggerImpl) Infof(message string, args ...any)    { l.Emit(INFO, message, args...) }
func (l *loggerImpl) Warnf(message string, args ...any)    { l.Emit(WARNING, message, args...) }
func (l *loggerImpl) Errorf(message string, args ...any)   { l.Emit(ERROR, message, args...) }
func (l *loggerImpl) Printf(message string, args ...any)   { l.Emit(DEBUG, message, args...) }

func (l *loggerImpl) Fatalf(message string, args ...any) {
	l.Emit(FATAL, message, args...)
	os.Exit(1)
}

type LoggerManager interface {
	GetLogger(string) Logger
	Emit(LogStatus, string, string, ...any)
	SetMinLevel(LogLevel)
}

var Log LoggerManager = &loggerMgr{
	offset:   0,
	minLevel: INFO.Level(),
}

type loggerMgr struct {
	sync.Mutex
	offset   int
	minLevel LogLevel
}

func (l *loggerMgr) GetLogger(name string) Logger {
	return &loggerImpl{name: name}
}

func (l *loggerMgr) Emit(status LogStatus, name string, message string, interpolations ...any) {
	l.Lock()
	defer l.Unlock()
	if status.Level() < l.minLevel {
		return
	}

	l.setNameOffset(len(name))
	padding := strings.Repeat(" ", l.offset-len(name))
	msg := fmt.Sprintf("[%s] %s(%s) %s", name, padding, status, fmt.Sprintf(message, interpolations...))
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}

	status.Color().Print(msg)
}

func (l *loggerMgr) SetMinLevel(level LogLevel) {
	l.Lock()
	defer l.Unlock()
	l.minLevel = level
}

func (l *loggerMgr) setNameOffset(offset int) {
	if offset > l.offset {
		l.offset = offset
	}
}

func Get(name string) Logger {
	return Log.GetLogger(name)
}

func SetMinLoggingLevel(level LogLevel) {
	Log.SetMinLevel(level)
}
