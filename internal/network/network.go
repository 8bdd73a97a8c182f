package network

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// NativeCurrency describes the chain's gas token.
type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// Descriptor is the payload a wallet needs to add an unknown chain. Field
// names follow the wallet_addEthereumChain parameter object.
type Descriptor struct {
	ChainID           string         `json:"chainId"`
	ChainName         string         `json:"chainName"`
	RPCURLs           []string       `json:"rpcUrls"`
	NativeCurrency    NativeCurrency `json:"nativeCurrency"`
	BlockExplorerURLs []string       `json:"blockExplorerUrls"`

	// AssetBaseURL is where minted names can be browsed as NFTs.
	AssetBaseURL string `json:"assetBaseUrl,omitempty"`
}

// Mumbai is the network the registry contract is deployed on.
var Mumbai = Descriptor{
	ChainID:   "0x13881",
	ChainName: "Polygon Mumbai Testnet",
	RPCURLs:   []string{"https://rpc-mumbai.maticvigil.com/"},
	NativeCurrency: NativeCurrency{
		Name:     "Mumbai Matic",
		Symbol:   "MATIC",
		Decimals: 18,
	},
	BlockExplorerURLs: []string{"https://mumbai.polygonscan.com/"},
	AssetBaseURL:      "https://testnets.opensea.io/assets/mumbai/",
}

// ID returns the numeric chain id.
func (d Descriptor) ID() (uint64, error) {
	id, err := hexutil.DecodeUint64(d.ChainID)
	if err != nil {
		return 0, fmt.Errorf("decode chain id %q: %w", d.ChainID, err)
	}
	return id, nil
}

// MustID is ID for descriptors known to be valid.
func (d Descriptor) MustID() uint64 {
	id, err := d.ID()
	if err != nil {
		panic(err)
	}
	return id
}

// Matches reports whether chainID identifies this network.
func (d Descriptor) Matches(chainID uint64) bool {
	id, err := d.ID()
	return err == nil && id == chainID
}

func (d Descriptor) RPCURL() string {
	if len(d.RPCURLs) == 0 {
		return ""
	}
	return d.RPCURLs[0]
}

func (d Descriptor) ExplorerURL() string {
	if len(d.BlockExplorerURLs) == 0 {
		return ""
	}
	return withSlash(d.BlockExplorerURLs[0])
}

// TxURL links a transaction hash on the block explorer.
func (d Descriptor) TxURL(hash string) string {
	base := d.ExplorerURL()
	if base == "" {
		return ""
	}
	return base + "tx/" + hash
}

// AssetURL links the NFT minted for a name.
func (d Descriptor) AssetURL(contract string, index int) string {
	if d.AssetBaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s%s/%d", withSlash(d.AssetBaseURL), contract, index)
}

// Validate checks the fields a wallet requires before accepting the chain.
func (d Descriptor) Validate() error {
	if _, err := d.ID(); err != nil {
		return err
	}
	if strings.TrimSpace(d.ChainName) == "" {
		return fmt.Errorf("chain name is required")
	}
	if d.RPCURL() == "" {
		return fmt.Errorf("at least one rpc url is required")
	}
	if d.NativeCurrency.Symbol == "" {
		return fmt.Errorf("native currency symbol is required")
	}
	if d.NativeCurrency.Decimals != 18 {
		return fmt.Errorf("native currency must use 18 decimals, got %d", d.NativeCurrency.Decimals)
	}
	return nil
}

// HexID formats a numeric chain id the way wallets report it.
func HexID(chainID uint64) string {
	return hexutil.EncodeUint64(chainID)
}

// Load reads a descriptor from a JSON file.
func Load(path string) (Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, err
	}
	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return Descriptor{}, fmt.Errorf("parse network descriptor: %w", err)
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

func withSlash(u string) string {
	if strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}
