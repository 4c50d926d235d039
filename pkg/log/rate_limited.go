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
	"time"

	"golang.org/x/time/rate"
)

// rateLimited drops statements that arrive faster than the limiter allows.
// Polling guests retry would-block operations in a tight loop, so anything
// logged on that path must go through one of these.
type rateLimited struct {
	logger Logger
	limit  *rate.Limiter
}

func (rl *rateLimited) Debugf(format string, v ...any) {
	if rl.limit.Allow() {
		rl.logger.Debugf(format, v...)
	}
}

func (rl *rateLimited) Infof(format string, v ...any) {
	if rl.limit.Allow() {
		rl.logger.Infof(format, v...)
	}
}

func (rl *rateLimited) Warningf(format string, v ...any) {
	if rl.limit.Allow() {
		rl.logger.Warningf(format, v...)
	}
}

func (rl *rateLimited) IsLogging(level Level) bool {
	return rl.logger.IsLogging(level)
}

// RateLimited returns a Logger that forwards to logger no more than once per
// the provided duration.
func RateLimited(logger Logger, every time.Duration) Logger {
	return &rateLimited{
		logger: logger,
		limit:  rate.NewLimiter(rate.Every(every), 1),
	}
}
