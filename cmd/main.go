package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/chengcxy/docshift/configor"
	"github.com/chengcxy/docshift/logger"
	_ "github.com/chengcxy/docshift/plugin/decrypter"
	_ "github.com/chengcxy/docshift/plugin/loader"
	_ "github.com/chengcxy/docshift/plugin/sslconfig"
	_ "github.com/chengcxy/docshift/plugin/task"
	"github.com/chengcxy/docshift/scheduler"
	_ "github.com/chengcxy/docshift/source/marklogic"
	_ "github.com/chengcxy/docshift/source/sqldb"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	OptionsFile string
	EnvFile     string
	LogPath     string
	Dev         bool
	Defines     []string
)

func main() {
	cmd := &cobra.Command{
		Use:   "docshift [" + strings.Join(configor.PositionalArgs, " ") + "]",
		Short: "run a module against every uri of a batch",
		Long:  "Options may be given as positional args, -D NAME=VALUE, environment variables or an options file.\n\nOptions:\n" + configor.Usage(),
		Args:  cobra.MaximumNArgs(len(configor.PositionalArgs)),
		RunE: func(cmd *cobra.Command, args []string) error {
			os.Exit(run(args))
			return nil
		},
		SilenceUsage: true,
	}
	flags := cmd.Flags()
	flags.StringVar(&OptionsFile, "options-file", "", "properties, yaml or json options file")
	flags.StringVar(&EnvFile, "env-file", "", "dotenv file merged into the environment snapshot")
	flags.StringArrayVarP(&Defines, "define", "D", nil, "NAME=VALUE option, repeatable")
	flags.StringVar(&LogPath, "log-path", "", "directory for rotated log files, console only when blank")
	flags.BoolVar(&Dev, "dev", false, "development console logging")
	if err := cmd.Execute(); err != nil {
		os.Exit(scheduler.ExitInitError)
	}
}

func run(args []string) int {
	if err := logger.InitLogger(logger.Config{
		Dev:           Dev,
		NeedFileWrite: LogPath != "",
		LogPath:       LogPath,
		FilePrefix:    "docshift-",
	}); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return scheduler.ExitInitError
	}
	defer logger.Sync()

	opts, err := buildOptions(args)
	if err != nil {
		logger.Errorf("%v", err)
		return scheduler.ExitInitError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// 捕获kill 信号，当收到 kill 信号时取消上下文
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalChan
		logger.Warnf("signal received, stopping")
		cancel()
	}()

	s, err := scheduler.NewScheduler(ctx, opts)
	if err != nil {
		logger.Errorf("init NewScheduler error %v", err)
		return scheduler.ExitCodeOf(err)
	}
	return s.Run()
}

func buildOptions(args []string) (*configor.Options, error) {
	defines := make(map[string]string, len(Defines))
	for _, d := range Defines {
		k, v, ok := strings.Cut(d, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid define %q, want NAME=VALUE", d)
		}
		defines[strings.TrimSpace(k)] = v
	}

	// 环境变量只在这里取一次快照, dotenv 不覆盖已有变量
	var environ []string
	if EnvFile != "" {
		m, err := godotenv.Read(EnvFile)
		if err != nil {
			return nil, fmt.Errorf("read env file %s: %w", EnvFile, err)
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			environ = append(environ, k+"="+m[k])
		}
	}
	environ = append(environ, os.Environ()...)

	name := OptionsFile
	if name == "" {
		name = defines[configor.OptionsFile]
	}
	if name == "" {
		name = os.Getenv(configor.OptionsFile)
	}
	var file map[string]string
	if name != "" {
		var err error
		if file, err = configor.LoadFile(name); err != nil {
			return nil, fmt.Errorf("read options file %s: %w", name, err)
		}
		logger.Infof("options file %s loaded, %d entries", name, len(file))
	}
	return configor.NewOptions(configor.ArgsFromPositional(args), defines, file, environ), nil
}
