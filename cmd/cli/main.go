// Copyright 2026 fanjia1024
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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cloudwego/eino/schema"

	"research-agent/internal/agent/research"
	"research-agent/internal/app"
	"research-agent/pkg/config"
	pkgerrors "research-agent/pkg/errors"
)

const version = "0.1.0"

func main() {
	os.Exit(runCommand(os.Args[1:], os.Stdout, os.Stderr))
}

func runCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stdout)
		return 0
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "version":
		fmt.Fprintf(stdout, "research-agent cli %s\n", version)
		return 0
	case "health":
		return runHealth(stdout, stderr)
	case "config":
		return runConfig(rest, stdout, stderr)
	case "run":
		return runResearch(rest, stdout, stderr)
	case "memory":
		return runMemory(rest, stdout, stderr)
	default:
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: research <command> [args]")
	fmt.Fprintln(w, "  version                   - 显示版本")
	fmt.Fprintln(w, "  health                    - 检查 API 服务（RESEARCH_API_URL）")
	fmt.Fprintln(w, "  config [-config path]     - 显示配置概要")
	fmt.Fprintln(w, "  run [flags] <question>    - 执行一次研究并输出答案与来源")
	fmt.Fprintln(w, "      -config path -user id -loops n -queries n -model name -remote")
	fmt.Fprintln(w, "  memory <user_id> [query]  - 查看用户长期记忆（经 API）")
}

func runHealth(stdout, stderr io.Writer) int {
	status, err := getHealth()
	if err != nil {
		fmt.Fprintf(stderr, "health: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, status)
	return 0
}

func runConfig(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("config", defaultConfigPath(), "配置文件路径")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := config.LoadConfig(*path)
	if err != nil {
		fmt.Fprintf(stderr, "加载配置失败: %v\n", err)
		return 1
	}
	r := cfg.Research
	fmt.Fprintf(stdout, "api.addr=%s\n", cfg.API.Addr())
	fmt.Fprintf(stdout, "model.provider=%s\n", cfg.Model.Provider)
	fmt.Fprintf(stdout, "research.models=%s,%s,%s\n", r.QueryGeneratorModel, r.ReflectionModel, r.AnswerModel)
	fmt.Fprintf(stdout, "research.number_of_initial_queries=%d\n", r.NumberOfInitialQueries)
	fmt.Fprintf(stdout, "research.max_research_loops=%d\n", r.MaxResearchLoops)
	fmt.Fprintf(stdout, "research.max_fan_out=%d\n", r.MaxFanOut)
	fmt.Fprintf(stdout, "storage.memory.type=%s\n", cfg.Storage.Memory.Type)
	fmt.Fprintf(stdout, "storage.cache.type=%s\n", cfg.Storage.Cache.Type)
	return 0
}

type runFlags struct {
	config  string
	user    string
	loops   int
	queries int
	model   string
	remote  bool
	prompt  string
}

func parseRunFlags(args []string, stderr io.Writer) (*runFlags, error) {
	f := &runFlags{}
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.config, "config", defaultConfigPath(), "配置文件路径")
	fs.StringVar(&f.user, "user", "", "user_id，为空时使用 anonymous")
	fs.IntVar(&f.loops, "loops", 0, "最大研究轮数，0 使用配置")
	fs.IntVar(&f.queries, "queries", 0, "首轮查询数，0 使用配置")
	fs.StringVar(&f.model, "model", "", "reflection 与 answer 使用的模型")
	fs.BoolVar(&f.remote, "remote", false, "经 API 服务执行（RESEARCH_API_URL）")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	f.prompt = strings.TrimSpace(strings.Join(fs.Args(), " "))
	if f.prompt == "" {
		return nil, fmt.Errorf("%w: question is required", pkgerrors.ErrInvalidArg)
	}
	if f.loops < 0 || f.queries < 0 {
		return nil, fmt.Errorf("%w: -loops and -queries must not be negative", pkgerrors.ErrInvalidArg)
	}
	return f, nil
}

func (f *runFlags) input() research.Input {
	return research.Input{
		Messages:                []*schema.Message{schema.UserMessage(f.prompt)},
		UserID:                  f.user,
		ReasoningModel:          f.model,
		InitialSearchQueryCount: f.queries,
		MaxResearchLoops:        f.loops,
	}
}

func runResearch(args []string, stdout, stderr io.Writer) int {
	f, err := parseRunFlags(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(stderr, "run: %v\n", err)
		}
		return 2
	}

	var out *research.Output
	if f.remote {
		out, err = postResearch(researchBody{
			Messages:                []map[string]string{{"role": "user", "content": f.prompt}},
			UserID:                  f.user,
			ReasoningModel:          f.model,
			InitialSearchQueryCount: f.queries,
			MaxResearchLoops:        f.loops,
		})
	} else {
		out, err = runLocal(f)
	}
	if err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}
	printOutput(stdout, out)
	return 0
}

func runLocal(f *runFlags) (*research.Output, error) {
	cfg, err := config.LoadConfig(f.config)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := app.NewBootstrap(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer b.Close()
	return b.Agent.Run(ctx, f.input())
}

func printOutput(w io.Writer, out *research.Output) {
	fmt.Fprintln(w, out.Answer())
	if len(out.Sources) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for i, s := range out.Sources {
			label := s.Label
			if label == "" {
				label = s.Value
			}
			fmt.Fprintf(w, "  [%d] %s %s\n", i+1, label, s.Value)
		}
	}
	if out.LoopBoundReached {
		fmt.Fprintf(w, "\n(research loop bound reached after %d loops)\n", out.ResearchLoopCount)
	}
	if len(out.Failures) > 0 {
		fmt.Fprintf(w, "\n%d step failure(s):\n", len(out.Failures))
		for _, fl := range out.Failures {
			fmt.Fprintf(w, "  %s: %s\n", fl.Step, fl.Error)
		}
	}
}

func runMemory(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: research memory <user_id> [query]")
		return 2
	}
	query := strings.Join(args[1:], " ")
	records, err := searchMemory(args[0], query, 0)
	if err != nil {
		fmt.Fprintf(stderr, "memory: %v\n", err)
		return 1
	}
	for _, r := range records {
		fmt.Fprintf(stdout, "%s\t%.2f\t%s\n", r.Key, r.Score, r.Content)
	}
	return 0
}

func defaultConfigPath() string {
	if p := os.Getenv("RESEARCH_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("configs/research.yaml"); err == nil {
		return "configs/research.yaml"
	}
	return ""
}
