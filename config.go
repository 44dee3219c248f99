// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcjoin/coordinator"
	"github.com/btcsuite/btcjoin/internal/cfgutil"
	"github.com/btcsuite/btcjoin/netparams"
	"github.com/btcsuite/btcjoin/pkg/btcunit"
	"github.com/btcsuite/btcjoin/prison"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultCAFilename     = "rpc.cert"
	defaultConfigFilename = "btcjoind.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "btcjoind.log"
	defaultBanFilename    = "banned.txt"
)

var (
	btcdDefaultCAFile  = filepath.Join(btcutil.AppDataDir("btcd", false), "rpc.cert")
	btcjoindHomeDir    = btcutil.AppDataDir("btcjoind", false)
	defaultConfigFile  = filepath.Join(btcjoindHomeDir, defaultConfigFilename)
	defaultDataDir     = btcjoindHomeDir
	defaultLogDir      = filepath.Join(btcjoindHomeDir, defaultLogDirname)
	defaultRoundConfig = coordinator.DefaultRoundConfig()
)

type config struct {
	// General application behavior
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store the ban list"`
	LogDir      string `long:"logdir" description:"Directory to log output"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	Profile     string `long:"profile" description:"Enable HTTP profiling on given port -- NOTE port must be between 1024 and 65536"`
	TestNet3    bool   `long:"testnet" description:"Use the test Bitcoin network (version 3) (default mainnet)"`
	RegTest     bool   `long:"regtest" description:"Use the regression test network (default mainnet)"`
	SimNet      bool   `long:"simnet" description:"Use the simulation test network (default mainnet)"`
	SigNet      bool   `long:"signet" description:"Use the signet test network (default mainnet)"`

	// Chain backend options
	RPCConnect       string `short:"c" long:"rpcconnect" description:"Hostname/IP and port of btcd RPC server to connect to (default localhost:8334, testnet: localhost:18334, simnet: localhost:18556)"`
	CAFile           string `long:"cafile" description:"File containing root certificates to authenticate a TLS connections with btcd"`
	DisableClientTLS bool   `long:"noclienttls" description:"Disable TLS for the RPC client -- NOTE: This is only allowed if the RPC client is connecting to localhost"`
	BtcdUsername     string `long:"btcdusername" description:"Username for btcd authentication"`
	BtcdPassword     string `long:"btcdpassword" default-mask:"-" description:"Password for btcd authentication"`

	// Coordinator server options
	Listeners     []string `long:"listen" description:"Listen for coordinator API connections on this interface/port (default port: 8350, testnet: 18350, regtest: 18450, simnet: 18550, signet: 38350)"`
	MetricsListen string   `long:"metricslisten" description:"Serve Prometheus metrics on this interface/port (default localhost and the network's metrics port)"`
	NoMetrics     bool     `long:"nometrics" description:"Disable the Prometheus metrics endpoint"`

	// Round options
	Denomination          *cfgutil.AmountFlag `long:"denomination" description:"Value of every mixed output"`
	AnonymitySet          uint32              `long:"anonymityset" description:"Number of peers a round needs"`
	CoordinatorFeePercent float64             `long:"coordinatorfee" description:"Percent of the denomination every peer pays the coordinator"`
	CoordinatorAddress    string              `long:"coordinatoraddress" description:"Segwit address receiving the coordinator fee -- without it the fee is left to the miners"`
	FeeRate               string              `long:"feerate" description:"Mining fee rate in satoshis per virtual byte (may be fractional) the per input and per output fees are derived from"`
	FeePerInput           *cfgutil.AmountFlag `long:"feeperinput" description:"Mining fee charged per input (overrides --feerate)"`
	FeePerOutput          *cfgutil.AmountFlag `long:"feeperoutput" description:"Mining fee charged per output (overrides --feerate)"`
	RelayFee              *cfgutil.AmountFlag `long:"relayfee" description:"Relay fee per kilobyte dust change is judged by"`
	MaxInputsPerPeer      uint32              `long:"maxinputs" description:"Maximum number of inputs a single peer registers"`
	ConfirmationTimeout   time.Duration       `long:"confirmationtimeout" description:"Time peers have to confirm their connection"`
	OutputTimeout         time.Duration       `long:"outputtimeout" description:"Time peers have to register their outputs"`
	SigningTimeout        time.Duration       `long:"signingtimeout" description:"Time peers have to sign the coinjoin"`
	ConfirmationTarget    uint32              `long:"conftarget" description:"Block target published to clients for the mining fees"`
	MinConfirmations      uint32              `long:"minconf" description:"Confirmations required of inputs that are not coinjoin outputs"`
	BlindingKeyBits       int                 `long:"blindingkeybits" description:"RSA modulus size of the per round blinding keys"`

	// Ban options
	BanFile           string  `long:"banfile" description:"File the banned outpoints are persisted to (default banned.txt in the network data directory)"`
	BanSeverity       uint32  `long:"banseverity" description:"Severity of a timeout offense"`
	BanDurationHours  float64 `long:"banhours" description:"Length in hours of a severity one ban"`
	StrictBans        bool    `long:"strictbans" description:"Enforce bans on the first timeout offense instead of noting it"`
	NotedOffenseLimit uint32  `long:"notedoffenses" description:"Noted offenses tolerated within one ban window"`
}

// cleanAndExpandPath expands environement variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(btcjoindHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows cmd.exe-style
	// %VARIABLE%, but they variables can still be expanded via POSIX-style
	// $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical":
		return true
	}
	return false
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	// Convert the subsystemLoggers map keys to a slice.
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	// Sort the subsytems for stable display.
	sort.Strings(subsystems)
	return subsystems
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "The specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "The specified subsystem [%v] is invalid -- " +
				"supported subsytems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// roundConfig returns the round parameters the options describe.
func (c *config) roundConfig(net *netparams.Params) (coordinator.RoundConfig,
	[]byte, error) {

	rc := coordinator.DefaultRoundConfig()
	rc.Denomination = c.Denomination.Amount
	rc.AnonymitySet = c.AnonymitySet
	rc.CoordinatorFeePercent = c.CoordinatorFeePercent
	rc.FeePerInput = c.FeePerInput.Amount
	rc.FeePerOutput = c.FeePerOutput.Amount
	rc.MaxInputsPerPeer = c.MaxInputsPerPeer
	rc.ConnectionConfirmationTimeout = c.ConfirmationTimeout
	rc.OutputRegistrationTimeout = c.OutputTimeout
	rc.SigningTimeout = c.SigningTimeout
	rc.ConfirmationTargetBlocks = c.ConfirmationTarget
	rc.MinConfirmations = c.MinConfirmations
	rc.BanSeverity = c.BanSeverity
	rc.BanDurationHours = c.BanDurationHours
	rc.NoteBeforeBan = !c.StrictBans
	rc.BlindingKeyBits = c.BlindingKeyBits

	if err := rc.Validate(); err != nil {
		return rc, nil, err
	}

	if c.CoordinatorAddress == "" {
		return rc, nil, nil
	}

	addr, err := btcutil.DecodeAddress(c.CoordinatorAddress, net.Params)
	if err != nil {
		return rc, nil, fmt.Errorf("coordinatoraddress '%s' failed to "+
			"decode: %v", c.CoordinatorAddress, err)
	}
	if !addr.IsForNet(net.Params) {
		return rc, nil, fmt.Errorf("coordinatoraddress '%s' is not for "+
			"%s", c.CoordinatorAddress, net.Name)
	}
	switch addr.(type) {
	case *btcutil.AddressWitnessPubKeyHash, *btcutil.AddressWitnessScriptHash,
		*btcutil.AddressTaproot:

	default:
		return rc, nil, fmt.Errorf("coordinatoraddress '%s' is not a "+
			"segwit address", c.CoordinatorAddress)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return rc, nil, err
	}

	return rc, script, nil
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in btcjoind functioning properly without any config
// settings while still allowing the user to override settings with config files
// and command line options.  Command line options always take precedence.
func loadConfig() (*config, *netparams.Params, []string, error) {
	// Default config.
	cfg := config{
		DebugLevel:            defaultLogLevel,
		ConfigFile:            defaultConfigFile,
		DataDir:               defaultDataDir,
		LogDir:                defaultLogDir,
		Denomination:          cfgutil.NewAmountFlag(defaultRoundConfig.Denomination),
		AnonymitySet:          defaultRoundConfig.AnonymitySet,
		CoordinatorFeePercent: defaultRoundConfig.CoordinatorFeePercent,
		FeeRate:               coordinator.DefaultFeeRate().RatString(),
		FeePerInput:           cfgutil.NewAmountFlag(0),
		FeePerOutput:          cfgutil.NewAmountFlag(0),
		RelayFee:              cfgutil.NewAmountFlag(txrules.DefaultRelayFeePerKb),
		MaxInputsPerPeer:      defaultRoundConfig.MaxInputsPerPeer,
		ConfirmationTimeout:   defaultRoundConfig.ConnectionConfirmationTimeout,
		OutputTimeout:         defaultRoundConfig.OutputRegistrationTimeout,
		SigningTimeout:        defaultRoundConfig.SigningTimeout,
		ConfirmationTarget:    defaultRoundConfig.ConfirmationTargetBlocks,
		MinConfirmations:      defaultRoundConfig.MinConfirmations,
		BlindingKeyBits:       defaultRoundConfig.BlindingKeyBits,
		BanSeverity:           defaultRoundConfig.BanSeverity,
		BanDurationHours:      defaultRoundConfig.BanDurationHours,
		NotedOffenseLimit:     prison.DefaultNotedOffenseLimit,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		return nil, nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	configFilePath := cleanAndExpandPath(preCfg.ConfigFile)
	err = flags.NewIniParser(parser).ParseFile(configFilePath)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return nil, nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, nil, err
	}

	// Choose the active network params based on the selected network.
	// Multiple networks can't be selected simultaneously.
	activeNet, err := netparams.Select(
		cfg.TestNet3, cfg.RegTest, cfg.SimNet, cfg.SigNet,
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, nil, err
	}

	// Append the network type to the log directory so it is "namespaced"
	// per network.
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = filepath.Join(cfg.LogDir, activeNet.Params.Name)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation.  After log rotation has been initialized, the
	// logger variables may be used.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("loadConfig: %v", err.Error())
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, nil, err
	}

	// Warn about missing config file after the final command line parse
	// succeeds.  This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		log.Warnf("%v", configFileError)
	}

	// Derive the per input and per output fees from the fee rate unless
	// they were given.
	feeRate, err := btcunit.ParseSatPerVByte(cfg.FeeRate)
	if err != nil {
		err := fmt.Errorf("loadConfig: %v", err)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, nil, err
	}
	relayRate := btcunit.NewSatPerKVByte(cfg.RelayFee.Amount).FeePerVByte()
	if feeRate.LessThan(relayRate) {
		err := fmt.Errorf("loadConfig: fee rate %v is below the relay "+
			"fee %v", feeRate, relayRate)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, nil, err
	}
	if cfg.FeePerInput.Amount == 0 {
		cfg.FeePerInput.Amount = coordinator.FeePerInputAt(feeRate)
	}
	if cfg.FeePerOutput.Amount == 0 {
		cfg.FeePerOutput.Amount = coordinator.FeePerOutputAt(feeRate)
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	netDir := filepath.Join(cfg.DataDir, activeNet.Params.Name)
	if cfg.BanFile == "" {
		cfg.BanFile = filepath.Join(netDir, defaultBanFilename)
	}
	cfg.BanFile = cleanAndExpandPath(cfg.BanFile)

	if cfg.RPCConnect == "" {
		cfg.RPCConnect = net.JoinHostPort("localhost", activeNet.RPCClientPort)
	}

	// Add default port to connect flag if missing.
	cfg.RPCConnect, err = cfgutil.NormalizeAddress(cfg.RPCConnect,
		activeNet.RPCClientPort)
	if err != nil {
		fmt.Fprintf(os.Stderr,
			"Invalid rpcconnect network address: %v\n", err)
		return nil, nil, nil, err
	}

	localhostListeners := map[string]struct{}{
		"localhost": {},
		"127.0.0.1": {},
		"::1":       {},
	}
	RPCHost, _, err := net.SplitHostPort(cfg.RPCConnect)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.DisableClientTLS {
		if _, ok := localhostListeners[RPCHost]; !ok {
			str := "loadConfig: the --noclienttls option may not be " +
				"used when connecting RPC to non localhost " +
				"addresses: %s"
			err := fmt.Errorf(str, cfg.RPCConnect)
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, nil, err
		}
	} else if cfg.CAFile == "" {
		// If CAFile is unset, choose either the copy or local btcd
		// cert.
		cfg.CAFile = filepath.Join(cfg.DataDir, defaultCAFilename)

		// If the CA copy does not exist, check if we're connecting to
		// a local btcd and switch to its RPC cert if it exists.
		certExists, err := cfgutil.FileExists(cfg.CAFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, nil, err
		}
		if !certExists {
			if _, ok := localhostListeners[RPCHost]; ok {
				btcdCertExists, err := cfgutil.FileExists(
					btcdDefaultCAFile)
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					return nil, nil, nil, err
				}
				if btcdCertExists {
					cfg.CAFile = btcdDefaultCAFile
				}
			}
		}
	}
	cfg.CAFile = cleanAndExpandPath(cfg.CAFile)

	if len(cfg.Listeners) == 0 {
		addrs, err := net.LookupHost("localhost")
		if err != nil {
			return nil, nil, nil, err
		}
		cfg.Listeners = make([]string, 0, len(addrs))
		for _, addr := range addrs {
			addr = net.JoinHostPort(addr, activeNet.CoordinatorPort)
			cfg.Listeners = append(cfg.Listeners, addr)
		}
	}

	// Add default port to all listener addresses if needed and remove
	// duplicate addresses.
	cfg.Listeners, err = cfgutil.NormalizeAddresses(
		cfg.Listeners, activeNet.CoordinatorPort)
	if err != nil {
		fmt.Fprintf(os.Stderr,
			"Invalid network address in listeners: %v\n", err)
		return nil, nil, nil, err
	}

	if cfg.MetricsListen == "" {
		cfg.MetricsListen = net.JoinHostPort(
			"localhost", activeNet.MetricsPort,
		)
	}
	cfg.MetricsListen, err = cfgutil.NormalizeAddress(
		cfg.MetricsListen, activeNet.MetricsPort,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr,
			"Invalid metrics network address: %v\n", err)
		return nil, nil, nil, err
	}

	if _, _, err := cfg.roundConfig(activeNet); err != nil {
		err := fmt.Errorf("loadConfig: invalid round options: %v", err)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, nil, err
	}

	return &cfg, activeNet, remainingArgs, nil
}
