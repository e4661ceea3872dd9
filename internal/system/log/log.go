/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

// Package log provides the application wide structured logger.
package log

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Common field keys.
const (
	LoggerKeyComponentName = "component"
	LoggerKeyCorrelationID = "correlation_id"
)

// Field is a single structured logging field.
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an int field.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 creates an int64 field.
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a bool field.
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Any creates a field holding an arbitrary value.
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Error creates the standard error field.
func Error(err error) Field {
	return Field{Key: logrus.ErrorKey, Value: err}
}

// Logger is a thin wrapper around a logrus entry.
type Logger struct {
	entry *logrus.Entry
}

var (
	instance *Logger
	once     sync.Once
)

// GetLogger returns the shared logger, creating it with JSON output at info level on first use.
func GetLogger() *Logger {
	once.Do(func() {
		base := logrus.New()
		base.SetFormatter(&logrus.JSONFormatter{})
		base.SetOutput(os.Stdout)
		base.SetLevel(logrus.InfoLevel)
		instance = &Logger{entry: logrus.NewEntry(base)}
	})
	return instance
}

// Configure applies level, format and output settings to the shared logger.
func Configure(level, format, output string) error {
	logger := GetLogger().entry.Logger

	if level != "" {
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			return err
		}
		logger.SetLevel(parsed)
	}

	switch strings.ToLower(format) {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	switch strings.ToLower(output) {
	case "stderr":
		logger.SetOutput(os.Stderr)
	case "", "stdout":
		logger.SetOutput(os.Stdout)
	default:
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		logger.SetOutput(file)
	}
	return nil
}

// SetOutput redirects the shared logger, mainly for tests.
func SetOutput(w io.Writer) {
	GetLogger().entry.Logger.SetOutput(w)
}

// Level returns the current level name.
func (l *Logger) Level() string {
	return l.entry.Logger.GetLevel().String()
}

// With returns a child logger carrying the given fields.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{entry: l.entry.WithFields(toLogrusFields(fields))}
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, fields ...Field) {
	l.entry.WithFields(toLogrusFields(fields)).Debug(msg)
}

// Info logs at info level.
func (l *Logger) Info(msg string, fields ...Field) {
	l.entry.WithFields(toLogrusFields(fields)).Info(msg)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, fields ...Field) {
	l.entry.WithFields(toLogrusFields(fields)).Warn(msg)
}

// Error logs at error level.
func (l *Logger) Error(msg string, fields ...Field) {
	l.entry.WithFields(toLogrusFields(fields)).Error(msg)
}

// Fatal logs at fatal level and exits.
func (l *Logger) Fatal(msg string, fields ...Field) {
	l.entry.WithFields(toLogrusFields(fields)).Fatal(msg)
}

func toLogrusFields(fields []Field) logrus.Fields {
	out := make(logrus.Fields, len(fields))
	for _, f := range fields {
		out[f.Key] = f.Value
	}
	return out
}
