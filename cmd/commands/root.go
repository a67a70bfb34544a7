package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-kit/kit/log/term"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	tmcfg "github.com/tendermint/tendermint/config"
	"github.com/tendermint/tendermint/libs/cli"
	tmflags "github.com/tendermint/tendermint/libs/cli/flags"
	"github.com/tendermint/tendermint/libs/log"

	cfg "slotchain/config"
)

var (
	config = cfg.DefaultConfig()
	logger = log.NewTMLoggerWithColorFn(log.NewSyncWriter(os.Stdout), errorColor)
)

// errorColor paints lines carrying an error red.
func errorColor(keyvals ...interface{}) term.FgBgColor {
	for i := 1; i < len(keyvals); i += 2 {
		if _, ok := keyvals[i].(error); ok {
			return term.FgBgColor{Fg: term.White, Bg: term.Red}
		}
	}
	return term.FgBgColor{}
}

func init() {
	registerFlagsRootCmd(RootCmd)
}

func registerFlagsRootCmd(cmd *cobra.Command) {
	cmd.PersistentFlags().String("log_level", config.LogLevel, "log level")
}

// ParseConfig retrieves the default environment configuration,
// sets up the root and ensures that the root exists
func ParseConfig() (*cfg.Config, error) {
	conf := cfg.DefaultConfig()
	err := viper.Unmarshal(conf)
	if err != nil {
		return nil, err
	}
	conf.SetRoot(conf.RootDir)
	cfg.EnsureRoot(conf.RootDir)
	if err := conf.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in config file: %v", err)
	}
	return conf, nil
}

// RootCmd is the root command for the node.
var RootCmd = &cobra.Command{
	Use:   "slotchain",
	Short: "Permissioned chain with round based block production",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		config, err = ParseConfig()
		if err != nil {
			return err
		}

		if config.LogFormat == tmcfg.LogFormatJSON {
			logger = log.NewTMJSONLogger(log.NewSyncWriter(os.Stdout))
		}

		logger, err = tmflags.ParseLogLevel(config.LogLevel, logger, tmcfg.DefaultLogLevel)
		if err != nil {
			return err
		}

		if viper.GetBool(cli.TraceFlag) {
			logger = log.NewTracingLogger(logger)
		}

		logger = logger.With("module", "main")
		return nil
	},
}

// authorityKeyFile is where init and gen-genesis keep the key that signs
// membership changes.
func authorityKeyFile() string {
	return filepath.Join(config.RootDir, "config", "authority_key.json")
}

// deprecateSnakeCase warns when a command is called by its snake_case alias.
func deprecateSnakeCase(cmd *cobra.Command, args []string) {
	if cmd.CalledAs() != cmd.Name() {
		fmt.Printf("Deprecated: snake_case commands will be replaced by hyphen-case commands in the next major release\n")
	}
}
