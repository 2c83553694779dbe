package cmd

import (
	"fmt"
	u "net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/omnessssssssss/gallery-dl/internal/config"
	"github.com/omnessssssssss/gallery-dl/internal/output"
	"github.com/omnessssssssss/gallery-dl/internal/scheduler"
	"github.com/omnessssssssss/gallery-dl/internal/shutdown"
	"github.com/omnessssssssss/gallery-dl/internal/utils"
)

var (
	outputPath    string
	connections   int
	numWorkers    int
	timeout       time.Duration
	kaTimeout     time.Duration
	userAgent     string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	headers       []string
	partDir       string
	noPart        bool
	configFile    string
	logFile       string
	debug         bool
)

var Version = "dev"

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:     "gallery-dl [flags] URL...",
	Short:   "gallery-dl is a fast segmented download manager",
	Version: Version,
	Args:    cobra.ArbitraryArgs,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			output.PrintError(fmt.Sprintf("Error loading config: %v", err))
			os.Exit(1)
		}
		applyConfig()
		utils.InitLogger(debug)
		if logFile != "" {
			if _, err := utils.EnableFileLog(logFile); err != nil {
				output.PrintError(fmt.Sprintf("Error opening log file: %v", err))
				os.Exit(1)
			}
		}
		shutdown.NotifyInterrupt()
	},
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			output.PrintError("No URL provided")
			os.Exit(1)
		}
		if outputPath != "" && len(args) > 1 {
			output.PrintError("Cannot use --output with multiple URLs, use batch instead")
			os.Exit(1)
		}
		clientConfig := buildClientConfig()
		jobs := make([]utils.Job, 0, len(args))
		for _, link := range args {
			if _, err := u.Parse(link); err != nil {
				output.PrintError(fmt.Sprintf("Invalid URL format: %s", link))
				os.Exit(1)
			}
			jobs = append(jobs, utils.Job{
				JobType:          "http",
				URL:              link,
				OutputPath:       outputPath,
				PartDir:          partDir,
				NoPart:           noPart,
				Connections:      connections,
				Metadata:         make(map[string]any),
				HTTPClientConfig: clientConfig,
			})
		}
		if err := scheduler.Run(jobs, numWorkers); err != nil {
			fmt.Println()
			output.PrintError("Encountered failed operation(s)")
			os.Exit(1)
		}
	},
}

// applyConfig fills in every flag the user did not set explicitly from
// the resolved file and environment configuration.
func applyConfig() {
	flags := rootCmd.PersistentFlags()
	if !flags.Changed("connections") {
		connections = cfg.Connections
	}
	if !flags.Changed("workers") {
		numWorkers = cfg.Workers
	}
	if !flags.Changed("timeout") {
		timeout = cfg.Timeout.Std()
	}
	if !flags.Changed("keep-alive-timeout") {
		kaTimeout = cfg.KATimeout.Std()
	}
	if !flags.Changed("user-agent") {
		userAgent = cfg.UserAgent
	}
	if !flags.Changed("proxy") && cfg.ProxyURL != "" {
		proxyURL = cfg.ProxyURL
	}
	if !flags.Changed("part-dir") && cfg.PartDir != "" {
		partDir = cfg.PartDir
	}
	if !flags.Changed("no-part") {
		noPart = cfg.NoPart
	}
	if !flags.Changed("debug") {
		debug = cfg.Debug
	}
}

func buildClientConfig() utils.HTTPClientConfig {
	if userAgent == "randomize" {
		userAgent = utils.GetRandomUserAgent()
	}
	// Pull auth out of the proxy URL when given inline
	parsedProxy, err := u.Parse(proxyURL)
	if err == nil && parsedProxy.User != nil && proxyUsername == "" {
		proxyUsername = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			proxyPassword = password
		}
		parsedProxy.User = nil
		proxyURL = parsedProxy.String()
	}
	return utils.HTTPClientConfig{
		Timeout:       timeout,
		KATimeout:     kaTimeout,
		ProxyURL:      proxyURL,
		ProxyUsername: proxyUsername,
		ProxyPassword: proxyPassword,
		UserAgent:     userAgent,
		Headers:       utils.ParseHeaderArgs(headers),
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.IntVarP(&connections, "connections", "c", utils.DefaultConnections, "Number of connections per download (above 5 enables high-thread-mode)")
	pf.IntVarP(&numWorkers, "workers", "w", utils.DefaultParallelJobs, "Number of downloads to run in parallel")
	pf.DurationVarP(&timeout, "timeout", "t", utils.DefaultTimeout, "Connection timeout (eg. 5s, 10m)")
	pf.DurationVarP(&kaTimeout, "keep-alive-timeout", "k", utils.DefaultKeepAliveTimeout, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	pf.StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent ('randomize' picks a real browser agent)")
	pf.StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	pf.StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	pf.StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	pf.StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	pf.StringVar(&partDir, "part-dir", "", "Directory for in-progress part files")
	pf.BoolVar(&noPart, "no-part", false, "Write directly to the output path without a .part file")
	pf.StringVar(&configFile, "config", "", "Path to YAML config file (default ./gallery-dl.yaml)")
	pf.StringVar(&logFile, "log-file", "", "Write logs to a file instead of stderr")
	pf.BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (inferred from the server or URL if not provided)")

	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newCleanCmd())
}
