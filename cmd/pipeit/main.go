package main

import (
	"context"
	"flag"
	"runtime/debug"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/stevesarmiento/pipeit/internal/config"
	"github.com/stevesarmiento/pipeit/internal/diagnose"
	"github.com/stevesarmiento/pipeit/internal/flow"
	"github.com/stevesarmiento/pipeit/internal/svc"
	"github.com/stevesarmiento/pipeit/pkg/logger"
)

var configFile = flag.String("f", "etc/pipeit.yaml", "the config file")

func main() {
	defer func() {
		if r := recover(); r != nil {
			logx.Errorf("panic: %+v\nstack: %s", r, debug.Stack())
		}
	}()

	flag.Parse()

	var c config.EngineConfig
	conf.MustLoad(*configFile, &c)

	if err := logger.InitLogger(c.LogConf.ToLogOption()); err != nil {
		panic(err)
	}
	defer logger.Sync()

	// leader 直连句柄由宿主按需创建；演示场景不启用，传 nil
	sc, err := svc.NewServiceContext(c, nil)
	if err != nil {
		panic(err)
	}
	defer sc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// 演示流程：两笔自转账批量落地，第二步读取第一步的结果
	self := sc.Signer.PublicKey()
	f := sc.NewFlow("demo-transfer").
		WithStrategy(flow.StrategyAuto).
		Step("transfer-1", func(ctx context.Context, stepCtx *flow.StepContext) (solana.Instruction, error) {
			return system.NewTransferInstruction(1_000, self, self).Build(), nil
		}).
		Step("transfer-2", func(ctx context.Context, stepCtx *flow.StepContext) (solana.Instruction, error) {
			return system.NewTransferInstruction(2_000, self, self).Build(), nil
		}).
		OnStepStart(func(name string) {
			logger.Infof("step %s started", name)
		}).
		OnStepComplete(func(name string, res *flow.StepResult) {
			logger.Infof("step %s landed: sig=%s index=%d", name, res.Signature, res.InstructionIndex)
		}).
		OnStepError(func(name string, err error) {
			logger.Errorf("step %s failed: %v", name, err)
		})

	results, err := f.Execute(ctx)
	if err != nil {
		rep := diagnose.Classify(err)
		logger.Errorf("flow failed: category=%s summary=%s suggestion=%s", rep.Category, rep.Summary, rep.Suggestion)
		return
	}
	logger.Infof("flow finished with %d step results", len(results))
}
