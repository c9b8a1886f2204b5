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

package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vexdb/vexsort/pkg/chunk"
	"github.com/vexdb/vexsort/pkg/common"
	"github.com/vexdb/vexsort/pkg/compute"
	"github.com/vexdb/vexsort/pkg/storage"
	"github.com/vexdb/vexsort/pkg/util"
)

var runCfg = &util.Config{}

func init() {
	cobra.OnInitialize(loadConfig)
	benchCmd.Flags().Int("rows", 1_000_000, "rows to sort")
	benchCmd.Flags().Int("threads", 4, "sink threads")
	benchCmd.Flags().Bool("desc", false, "sort descending")
	RootCmd.AddCommand(benchCmd)
}

var cfgFileName = "vexsort.toml"

func loadConfig() {
	viper.SetConfigFile(cfgFileName)
	if util.FileIsValid(cfgFileName) {
		if err := viper.ReadInConfig(); err != nil {
			util.Error("load config file failed",
				zap.String("fpath", cfgFileName),
				zap.Error(err))
			os.Exit(1)
		}
		util.LoadConfig(runCfg)
		return
	}
	runCfg.FillDefaults()
}

var info = "vexsort"
var RootCmd = &cobra.Command{
	Use:          "vexsort",
	Short:        info,
	Long:         info,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("use vexsort --help or -h")
	},
}

var benchInfo = "sort random rows through the order operator"
var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: benchInfo,
	Long:  benchInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, _ := cmd.Flags().GetInt("rows")
		threads, _ := cmd.Flags().GetInt("threads")
		desc, _ := cmd.Flags().GetBool("desc")
		return runBench(rows, threads, desc)
	},
}

func runBench(rows int, threads int, desc bool) error {
	tempDir := runCfg.Sort.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	bufferMgr := storage.NewBufferManager(tempDir, int64(runCfg.Sort.MemoryLimit))
	defer bufferMgr.Close()

	payloadTypes := []common.LType{
		common.IntegerType(),
		common.VarcharType(),
	}
	orders := []*compute.OrderByNode{
		{Child: compute.NewColumnRef(0, common.IntegerType()), Desc: desc},
	}
	order := compute.NewPhysicalOrder(payloadTypes, orders, rows, runCfg)
	if runCfg.Debug.PrintPlan {
		fmt.Print(order.Explain())
	}
	gstate := order.GetGlobalState(bufferMgr)
	defer gstate.Close()

	sinkStart := time.Now()
	group := errgroup.Group{}
	perThread := (rows + threads - 1) / threads
	for th := 0; th < threads; th++ {
		seed := int64(th)
		cnt := min(perThread, rows-th*perThread)
		if cnt <= 0 {
			break
		}
		group.Go(func() error {
			rnd := rand.New(rand.NewSource(seed))
			lstate := order.GetLocalSinkState()
			defer lstate.Close()
			remaining := cnt
			for remaining > 0 {
				batchCnt := min(util.DefaultVectorSize, remaining)
				batch := &chunk.Chunk{}
				batch.Init(payloadTypes, util.DefaultVectorSize)
				keys := chunk.GetSliceInPhyFormatFlat[int32](batch.Data[0])
				for i := 0; i < batchCnt; i++ {
					key := int32(rnd.Intn(1 << 20))
					keys[i] = key
					batch.Data[1].SetValue(i, &chunk.Value{
						Typ: common.VarcharType(),
						Str: fmt.Sprintf("row-%08d", key),
					})
				}
				batch.SetCard(batchCnt)
				if err := order.Sink(gstate, lstate, batch); err != nil {
					return err
				}
				remaining -= batchCnt
			}
			return order.Combine(gstate, lstate)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	util.Info("sink done",
		zap.Int("rows", rows),
		zap.Int("threads", threads),
		zap.Duration("elapsed", time.Since(sinkStart)))

	finalizeStart := time.Now()
	if err := order.Finalize(gstate); err != nil {
		return err
	}
	util.Info("finalize done",
		zap.Int("totalCount", gstate.TotalCount()),
		zap.Duration("elapsed", time.Since(finalizeStart)))

	emitStart := time.Now()
	state := order.GetOperatorState(nil)
	defer state.Close()
	emitted := 0
	var prev int32
	havePrev := false
	for {
		output := &chunk.Chunk{}
		output.Init(payloadTypes, util.DefaultVectorSize)
		if err := order.GetChunk(gstate, output, state); err != nil {
			return err
		}
		if output.Card() == 0 {
			break
		}
		keys := chunk.GetSliceInPhyFormatFlat[int32](output.Data[0])
		for i := 0; i < output.Card(); i++ {
			if havePrev {
				inOrder := prev <= keys[i]
				if desc {
					inOrder = prev >= keys[i]
				}
				if !inOrder {
					return fmt.Errorf("output out of order at row %d", emitted+i)
				}
			}
			prev = keys[i]
			havePrev = true
		}
		if runCfg.Debug.PrintResult {
			output.Print2("row")
		}
		emitted += output.Card()
	}
	if emitted != rows {
		return fmt.Errorf("emitted %d rows, expected %d", emitted, rows)
	}
	util.Info("emit done",
		zap.Int("rows", emitted),
		zap.Duration("elapsed", time.Since(emitStart)))
	return nil
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		util.Error("vexsort failed", zap.Error(err))
		os.Exit(1)
	}
}
