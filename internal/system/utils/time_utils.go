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

package utils

import "time"

// Day is the unit consent durations are expressed in.
const Day = 24 * time.Hour

// MillisToTime converts milliseconds since epoch to time.Time.
func MillisToTime(millis int64) time.Time {
	return time.UnixMilli(millis).UTC()
}

// TimeToMillis converts time.Time to milliseconds since epoch.
func TimeToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// AddDays returns the epoch millis that lies the given number of days after base.
func AddDays(baseMillis int64, days int) int64 {
	return baseMillis + int64(days)*Day.Milliseconds()
}

// MaxMillis returns the later of two epoch millis values.
func MaxMillis(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
