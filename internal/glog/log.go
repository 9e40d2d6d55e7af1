// Copyright 2019 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package glog is a minimal structured logger in the shape of go-ethereum's
// own log package: a Logger carries a fixed set of key/value context pairs,
// and each level method appends call-site pairs on top of that context.
package glog

import (
	"log/slog"
	"os"
)

// Logger writes leveled, structured log lines with a fixed context.
type Logger interface {
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	New(ctx ...any) Logger
}

type logger struct {
	inner *slog.Logger
}

var root = slog.New(slog.NewTextHandler(os.Stderr, nil))

// New returns a Logger whose every line carries the given key/value context
// pairs in addition to the pairs passed at the call site.
func New(ctx ...any) Logger {
	return &logger{inner: root.With(ctx...)}
}

func (l *logger) Debug(msg string, ctx ...any) { l.inner.Debug(msg, ctx...) }
func (l *logger) Info(msg string, ctx ...any)  { l.inner.Info(msg, ctx...) }
func (l *logger) Warn(msg string, ctx ...any)  { l.inner.Warn(msg, ctx...) }
func (l *logger) Error(msg string, ctx ...any) { l.inner.Error(msg, ctx...) }

func (l *logger) New(ctx ...any) Logger {
	return &logger{inner: l.inner.With(ctx...)}
}
