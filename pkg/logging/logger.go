package logging

// Logger is the logging interface used across the module. Components
// receive it from their caller and never construct their own backend.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// LogFuncs adapts any sprintf-style logging backend to Logger.
type LogFuncs struct {
	Debugf func(format string, args ...interface{})
	Infof  func(format string, args ...interface{})
	Warnf  func(format string, args ...interface{})
	Errorf func(format string, args ...interface{})
}

type funcLogger struct {
	prefix string
	funcs  LogFuncs
}

// NewLogger wraps a set of LogFuncs with a fixed message prefix.
// Nil funcs are tolerated and silently discard their level.
func NewLogger(prefix string, funcs LogFuncs) Logger {
	return &funcLogger{
		prefix: prefix,
		funcs:  funcs,
	}
}

func (l *funcLogger) Debugf(format string, args ...interface{}) {
	if l.funcs.Debugf != nil {
		l.funcs.Debugf(l.prefix+format, args...)
	}
}

func (l *funcLogger) Infof(format string, args ...interface{}) {
	if l.funcs.Infof != nil {
		l.funcs.Infof(l.prefix+format, args...)
	}
}

func (l *funcLogger) Warnf(format string, args ...interface{}) {
	if l.funcs.Warnf != nil {
		l.funcs.Warnf(l.prefix+format, args...)
	}
}

func (l *funcLogger) Errorf(format string, args ...interface{}) {
	if l.funcs.Errorf != nil {
		l.funcs.Errorf(l.prefix+format, args...)
	}
}
