package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/lib/crypto"
	"github.com/canopy-network/routing/node"
	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "show the identity of this node",
	Run: func(cmd *cobra.Command, args []string) {
		printIdentity(identity)
	},
}

var keysNewCmd = &cobra.Command{
	Use:   "new",
	Short: "replace the identity of this node with a fresh one",
	Run: func(cmd *cobra.Command, args []string) {
		id, err := newNodeKey(config.DataDirPath)
		if err != nil {
			l.Fatal(err.Error())
		}
		printIdentity(id)
	},
}

var genesisCmd = &cobra.Command{
	Use:   "genesis",
	Short: "create the genesis key of a new network, held by this node",
	Run: func(cmd *cobra.Command, args []string) {
		if _, err := os.Stat(filepath.Join(config.DataDirPath, lib.GenesisKeyPath)); err == nil {
			l.Fatalf("%s already exists", lib.GenesisKeyPath)
		}
		keySet, share, err := node.NewGenesis()
		if err != nil {
			l.Fatal(err.Error())
		}
		g := &Genesis{KeySet: keySet, Share: share}
		if err = lib.SaveJSONToFile(g, config.DataDirPath, lib.GenesisKeyPath); err != nil {
			l.Fatal(err.Error())
		}
		fmt.Printf("Genesis key: %s\n", lib.BytesToString(g.Key()))
	},
}

var genesisExportCmd = &cobra.Command{
	Use:   "export <dir>",
	Short: "write the public genesis, for the nodes joining the network, into another data directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		g, err := ReadGenesis(config.DataDirPath)
		if err != nil {
			l.Fatal(err.Error())
		}
		if e := os.MkdirAll(args[0], os.ModePerm); e != nil {
			l.Fatal(e.Error())
		}
		if err = lib.SaveJSONToFile(&Genesis{KeySet: g.KeySet}, args[0], lib.GenesisKeyPath); err != nil {
			l.Fatal(err.Error())
		}
		fmt.Printf("Wrote %s\n", filepath.Join(args[0], lib.GenesisKeyPath))
	},
}

func init() {
	keysCmd.AddCommand(keysNewCmd)
	genesisCmd.AddCommand(genesisExportCmd)
}

// Genesis is the genesis.json file: the public key set of the first section, and its only share on the founding node
type Genesis struct {
	KeySet *crypto.PublicKeySet   `json:"keySet"`
	Share  *crypto.SecretKeyShare `json:"share,omitempty"`
}

// Key() returns the genesis key every section chain starts from
func (g *Genesis) Key() []byte { return g.KeySet.PublicKey().Bytes() }

// ReadGenesis() loads genesis.json from the data directory
func ReadGenesis(dataDirPath string) (*Genesis, lib.ErrorI) {
	g := new(Genesis)
	if err := lib.NewJSONFromFile(g, dataDirPath, lib.GenesisKeyPath); err != nil {
		return nil, err
	}
	if g.KeySet == nil {
		return nil, node.ErrGenesisKey("missing key set")
	}
	return g, nil
}

// newNodeKey() generates an identity and saves it as the node key
func newNodeKey(dataDirPath string) (*lib.Identity, lib.ErrorI) {
	id, err := lib.NewIdentity()
	if err != nil {
		return nil, err
	}
	if err = lib.SaveJSONToFile(id, dataDirPath, lib.NodeKeyPath); err != nil {
		return nil, err
	}
	return id, nil
}

func printIdentity(id *lib.Identity) {
	if id == nil {
		l.Fatal("no identity")
	}
	fmt.Printf("Name:         %s\n", id.Name)
	fmt.Printf("PublicKey:    %s\n", lib.BytesToString(id.PublicKey()))
	fmt.Printf("BLSPublicKey: %s\n", lib.BytesToString(id.BLSPublicKey()))
}
