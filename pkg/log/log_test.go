// Copyright 2019 The guestnet Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"strings"
	"testing"
	"time"
)

type testEmitter struct {
	lines []string
}

func (e *testEmitter) Emit(level Level, timestamp time.Time, format string, v ...any) {
	e.lines = append(e.lines, format)
}

func TestLevelFiltering(t *testing.T) {
	e := &testEmitter{}
	l := &BasicLogger{level: Info, Emitter: e}

	l.Debugf("debug")
	l.Infof("info")
	l.Warningf("warning")

	if got, want := len(e.lines), 2; got != want {
		t.Fatalf("got %d lines, wanted %d: %v", got, want, e.lines)
	}
	if e.lines[0] != "info" || e.lines[1] != "warning" {
		t.Errorf("got lines %v, wanted [info warning]", e.lines)
	}
}

func TestIsLogging(t *testing.T) {
	l := &BasicLogger{level: Warning, Emitter: &testEmitter{}}
	if !l.IsLogging(Warning) {
		t.Errorf("IsLogging(Warning): got false, wanted true")
	}
	if l.IsLogging(Debug) {
		t.Errorf("IsLogging(Debug): got true, wanted false")
	}
}

func TestWriterFormat(t *testing.T) {
	var sb strings.Builder
	l := &BasicLogger{level: Debug, Emitter: &Writer{Next: &sb}}
	l.Debugf("value %d", 7)
	out := sb.String()
	if !strings.Contains(out, "D] value 7") {
		t.Errorf("got %q, wanted it to contain %q", out, "D] value 7")
	}
}

func TestRateLimited(t *testing.T) {
	e := &testEmitter{}
	inner := &BasicLogger{level: Debug, Emitter: e}
	rl := RateLimited(inner, time.Hour)

	for i := 0; i < 10; i++ {
		rl.Debugf("spam")
	}
	if got, want := len(e.lines), 1; got != want {
		t.Errorf("got %d lines, wanted %d", got, want)
	}
}
