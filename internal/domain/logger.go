package domain

// Logger is the minimal logging surface components depend on. The zap
// sugared logger satisfies it directly.
type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}
