package logger

import (
	"context"
	"fmt"
)

// LogInfo logs an info message with context fields.
func LogInfo(ctx context.Context, msg string, keysAndValues ...interface{}) {
	GetLogger(ctx).Infow(msg, keysAndValues...)
}

// LogDebug logs a debug message with context fields.
func LogDebug(ctx context.Context, msg string, keysAndValues ...interface{}) {
	GetLogger(ctx).Debugw(msg, keysAndValues...)
}

// LogWarn logs a warning message with context fields.
func LogWarn(ctx context.Context, msg string, keysAndValues ...interface{}) {
	GetLogger(ctx).Warnw(msg, keysAndValues...)
}

// LogError logs an error with its type and the messages of its wrap chain.
func LogError(ctx context.Context, msg string, err error, keysAndValues ...interface{}) {
	fields := append([]interface{}{
		"error_message", err.Error(),
		"error_type", fmt.Sprintf("%T", err),
		"error_chain", UnwrapError(err),
	}, keysAndValues...)

	GetLogger(ctx).Errorw(msg, fields...)
}

// UnwrapError recursively unwraps an error chain and returns all error messages.
func UnwrapError(err error) []string {
	if err == nil {
		return nil
	}

	var messages []string
	for err != nil {
		messages = append(messages, err.Error())

		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}

	return messages
}
