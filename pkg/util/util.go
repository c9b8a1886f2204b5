// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"fmt"
	"os"
	"runtime"
)

const (
	DefaultVectorSize = 2048
)

func AlignValue8(value int) int {
	return (value + 7) & (^7)
}

func AssertFunc(b bool) {
	if !b {
		panic("assertion failed")
	}
}

func Back[T any](data []T) T {
	l := len(data)
	if l == 0 {
		panic("empty slice")
	} else if l == 1 {
		return data[0]
	}
	return data[l-1]
}

func Size[T any](data []T) int {
	return len(data)
}

func Empty[T any](data []T) bool {
	return Size(data) == 0
}

func FileIsValid(path string) bool {
	stat, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !stat.IsDir()
}

func ConvertPanicError(v interface{}) error {
	return fmt.Errorf("panic %v: %+v", v, Callers(3))
}

type Stack []uintptr

// Callers makes the depth customizable.
func Callers(depth int) *Stack {
	const numFrames = 32
	var pcs [numFrames]uintptr
	n := runtime.Callers(2+depth, pcs[:])
	var st Stack = pcs[0:n]
	return &st
}
