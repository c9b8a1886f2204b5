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
	"github.com/spf13/viper"
)

type SortOptions struct {
	//bytes of sorting data accumulated before a local sort is triggered
	SortingBlockSize int `tag:"sortingBlockSize"`
	//bytes of the string prefix kept in the memcmp-able key
	PrefixLength int `tag:"prefixLength"`
	//directory for spilled blocks
	TempDir string `tag:"tempDir"`
	//bytes the buffer manager may keep resident. 0 means unlimited
	MemoryLimit int `tag:"memoryLimit"`
}

type DebugOptions struct {
	PrintResult bool `tag:"printResult"`
	PrintPlan   bool `tag:"printPlan"`
}

type Config struct {
	Sort  SortOptions  `tag:"sort"`
	Debug DebugOptions `tag:"debug"`
}

func (cfg *Config) FillDefaults() {
	if cfg.Sort.SortingBlockSize == 0 {
		cfg.Sort.SortingBlockSize = 1 << 20
	}
	if cfg.Sort.PrefixLength == 0 {
		cfg.Sort.PrefixLength = 12
	}
}

func LoadConfig(cfg *Config) {
	cfg.Sort.SortingBlockSize = viper.GetInt("sort.sortingBlockSize")
	cfg.Sort.PrefixLength = viper.GetInt("sort.prefixLength")
	cfg.Sort.TempDir = viper.GetString("sort.tempDir")
	cfg.Sort.MemoryLimit = viper.GetInt("sort.memoryLimit")
	cfg.Debug.PrintResult = viper.GetBool("debug.printResult")
	cfg.Debug.PrintPlan = viper.GetBool("debug.printPlan")
	cfg.FillDefaults()
}
