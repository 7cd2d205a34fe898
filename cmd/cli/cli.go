package cli

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/canopy-network/routing/cmd/rpc"
	"github.com/canopy-network/routing/consensus"
	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/node"
	"github.com/canopy-network/routing/p2p"
	"github.com/canopy-network/routing/store"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "routing",
	Short: "the secure routing layer of a storage overlay network",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config, identity = InitializeDataDirectory(DataDir, lib.NewDefaultLogger())
		l = lib.NewLogger(lib.LoggerConfig{Level: config.GetLogLevel()}, config.DataDirPath)
		client = rpc.NewClient(config.RPCUrl)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(rpc.SoftwareVersion)
	},
}

var (
	client, config, l = &rpc.Client{}, lib.Config{}, lib.LoggerI(nil)
	DataDir, identity = "", (*lib.Identity)(nil)
)

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(genesisCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.PersistentFlags().StringVar(&DataDir, "data-dir", lib.DefaultDataDirPath(), "custom data directory location")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "start the routing node",
	Run: func(cmd *cobra.Command, args []string) {
		Start()
	},
}

// Start() is the entrypoint of the node
func Start() {
	// read the network genesis
	g, err := ReadGenesis(config.DataDirPath)
	if err != nil {
		l.Fatalf("Reading %s failed, create it with `routing genesis` or copy it from the network: %s",
			lib.GenesisKeyPath, err.Error())
	}
	// initialize the metrics server
	metrics := lib.NewMetricsServer(config.MetricsConfig, l)
	// open the database
	db, err := store.Open(config.StoreConfig, l)
	if err != nil {
		l.Fatal(err.Error())
	}
	snapshot, err := db.LoadSection()
	if err != nil {
		l.Fatal(err.Error())
	}
	// listen for peers
	transport, err := p2p.NewQUIC(config.P2PConfig, metrics, l)
	if err != nil {
		l.Fatal(err.Error())
	}
	// log the node identity
	l.Infof("Using identity: Name: %s | PublicKey: %s", identity.Name, lib.BytesToString(identity.PublicKey()))
	// elders of one process share an in-memory consensus network
	engines := node.MemEngines(consensus.NewMemNetwork(l))
	n, err := node.New(config, identity, g.Key(), transport, engines, db, metrics, l)
	if err != nil {
		l.Fatal(err.Error())
	}
	// the holder of the genesis share founds the network on its first start
	if g.Share != nil && snapshot == nil {
		if err = n.Genesis(g.KeySet, g.Share); err != nil {
			l.Fatal(err.Error())
		}
		l.Infof("Founded the network with genesis key %s", lib.BytesToString(g.Key()))
	}
	// initialize the rpc server
	rpcServer := rpc.NewServer(n, config, l)
	// start the metrics server
	metrics.Start()
	// start the node
	n.Start()
	// start the rpc server
	rpcServer.Start()
	// block until a kill signal is received
	waitForKill()
	// gracefully stop the rpc server
	rpcServer.Stop()
	// gracefully stop the node
	n.Stop()
	// close the database
	if err = db.Close(); err != nil {
		l.Error(err.Error())
	}
	// gracefully stop the metrics server
	metrics.Stop()
	// exit
	os.Exit(0)
}

// waitForKill() blocks until a kill signal is received
func waitForKill() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGABRT)
	// block until kill signal is received
	s := <-stop
	l.Infof("Exit command %s received", s)
}

// InitializeDataDirectory() populates the data directory with configuration and key files if missing
func InitializeDataDirectory(dataDirPath string, log lib.LoggerI) (c lib.Config, id *lib.Identity) {
	// make the data dir if missing
	if err := os.MkdirAll(dataDirPath, os.ModePerm); err != nil {
		log.Fatal(err.Error())
	}
	// make the config.json file if missing
	configFilePath := filepath.Join(dataDirPath, lib.ConfigFilePath)
	if _, err := os.Stat(configFilePath); errors.Is(err, os.ErrNotExist) {
		log.Infof("Creating %s file", lib.ConfigFilePath)
		defaults := lib.DefaultConfig()
		defaults.DataDirPath = dataDirPath
		if err = defaults.WriteToFile(configFilePath); err != nil {
			log.Fatal(err.Error())
		}
	}
	// make the node key file if missing
	if _, err := os.Stat(filepath.Join(dataDirPath, lib.NodeKeyPath)); errors.Is(err, os.ErrNotExist) {
		log.Infof("Creating %s file", lib.NodeKeyPath)
		if _, e := newNodeKey(dataDirPath); e != nil {
			log.Fatal(e.Error())
		}
	}
	// load the node key
	id = new(lib.Identity)
	if err := lib.NewJSONFromFile(id, dataDirPath, lib.NodeKeyPath); err != nil {
		log.Fatal(err.Error())
	}
	// load the config
	c, err := lib.NewConfigFromFile(configFilePath)
	if err != nil {
		log.Fatal(err.Error())
	}
	c.DataDirPath = dataDirPath
	return
}
