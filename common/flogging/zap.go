/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package flogging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapgrpc"
)

// NewZapLogger creates a zap logger around core that records the caller
// and a stack trace for errors.
func NewZapLogger(core zapcore.Core, options ...zap.Option) *zap.Logger {
	return zap.New(core, append([]zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}, options...)...)
}

// NewGRPCLogger creates a grpc logger that delegates to l.
func NewGRPCLogger(l *zap.Logger) *zapgrpc.Logger {
	return zapgrpc.NewLogger(l.WithOptions(zap.AddCaller(), zap.AddCallerSkip(3)))
}

// NewLogger creates a logger that delegates to the sugared form of l.
func NewLogger(l *zap.Logger, options ...zap.Option) *Logger {
	return &Logger{s: l.WithOptions(append(options, zap.AddCallerSkip(1))...).Sugar()}
}

// A Logger keeps printf style logging on top of a zap.SugaredLogger.
// The unsuffixed methods join their arguments with spaces.
type Logger struct{ s *zap.SugaredLogger }

func (f *Logger) Debugf(template string, args ...interface{})   { f.s.Debugf(template, args...) }
func (f *Logger) Info(args ...interface{})                      { f.s.Info(joinArgs(args)) }
func (f *Logger) Infof(template string, args ...interface{})    { f.s.Infof(template, args...) }
func (f *Logger) Infow(msg string, kvPairs ...interface{})      { f.s.Infow(msg, kvPairs...) }
func (f *Logger) Warnf(template string, args ...interface{})    { f.s.Warnf(template, args...) }
func (f *Logger) Warningf(template string, args ...interface{}) { f.s.Warnf(template, args...) }
func (f *Logger) Error(args ...interface{})                     { f.s.Error(joinArgs(args)) }
func (f *Logger) Errorf(template string, args ...interface{})   { f.s.Errorf(template, args...) }

func (f *Logger) Named(name string) *Logger { return &Logger{s: f.s.Named(name)} }
func (f *Logger) Zap() *zap.Logger                { return f.s.Desugar() }

// IsEnabledFor reports whether an entry at level would be written under
// the current spec for this logger's name.
func (f *Logger) IsEnabledFor(level zapcore.Level) bool {
	return f.s.Desugar().Check(level, "") != nil
}

// With returns a logger that adds the key value pairs to every entry.
func (f *Logger) With(args ...interface{}) *Logger {
	return &Logger{s: f.s.With(args...)}
}

func joinArgs(args []interface{}) string { return strings.TrimSuffix(fmt.Sprintln(args...), "\n") }
