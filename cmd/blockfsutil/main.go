// Command blockfsutil drives a blockfs image from the shell: format,
// check, benchmark, or browse it. Flags, a config file, and BLOCKFS_*
// environment variables compose through Viper.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/coursefs/blockfs/internal/blog"
)

var (
	cfgFile    string
	imagePath  string
	sectorsOpt uint32
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "blockfsutil",
	Short: "Inspect and exercise a blockfs disk image",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			blog.SetLevel(blog.DEBUG)
		}
		return bindConfig()
	},
}

func bindConfig() error {
	viper.SetEnvPrefix("BLOCKFS")
	viper.AutomaticEnv()
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", cfgFile, err)
		}
	}
	if viper.IsSet("image") {
		imagePath = viper.GetString("image")
	}
	if viper.IsSet("sectors") {
		sectorsOpt = viper.GetUint32("sectors")
	}
	return nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML/JSON/TOML)")
	rootCmd.PersistentFlags().StringVar(&imagePath, "image", "blockfs.img", "path to the disk image file")
	rootCmd.PersistentFlags().Uint32Var(&sectorsOpt, "sectors", 16384, "sector count for a freshly formatted image")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(formatCmd, fsckCmd, benchCmd, shellCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
