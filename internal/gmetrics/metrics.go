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

// Package gmetrics carries the small subset of go-ethereum's metrics
// package that the freezer table relies on: a Meter to mark a rate of
// events, and a Gauge to track a point-in-time value. Neither reports
// anywhere; they are in-process counters the owning process can poll.
package gmetrics

import "sync/atomic"

// Meter tracks a monotonically increasing count of marked events.
type Meter interface {
	Mark(n int64)
	Count() int64
}

// Gauge tracks a point-in-time value that can move up or down.
type Gauge interface {
	Inc(n int64)
	Dec(n int64)
	Value() int64
}

// StandardMeter is a Meter backed by an atomic counter.
type StandardMeter struct{ count int64 }

// NewMeter returns a Meter that accumulates marks in-process.
func NewMeter() *StandardMeter { return &StandardMeter{} }

func (m *StandardMeter) Mark(n int64) { atomic.AddInt64(&m.count, n) }
func (m *StandardMeter) Count() int64 { return atomic.LoadInt64(&m.count) }

// StandardGauge is a Gauge backed by an atomic counter.
type StandardGauge struct{ value int64 }

// NewGauge returns a Gauge that tracks its value in-process.
func NewGauge() *StandardGauge { return &StandardGauge{} }

func (g *StandardGauge) Inc(n int64)  { atomic.AddInt64(&g.value, n) }
func (g *StandardGauge) Dec(n int64)  { atomic.AddInt64(&g.value, -n) }
func (g *StandardGauge) Value() int64 { return atomic.LoadInt64(&g.value) }

// NilMeter discards every mark. Used when a caller doesn't care to track
// read/write rates for a given table.
type NilMeter struct{}

func (NilMeter) Mark(int64) {}
func (NilMeter) Count() int64 { return 0 }

// NilGauge discards every update.
type NilGauge struct{}

func (NilGauge) Inc(int64)     {}
func (NilGauge) Dec(int64)     {}
func (NilGauge) Value() int64  { return 0 }
