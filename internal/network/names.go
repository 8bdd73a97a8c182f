package network

// names holds the chains a wallet is commonly found on.
var names = map[uint64]string{
	1:     "Mainnet",
	3:     "Ropsten",
	4:     "Rinkeby",
	5:     "Goerli",
	42:    "Kovan",
	56:    "BSC Mainnet",
	97:    "BSC Testnet",
	137:   "Polygon Mainnet",
	80001: "Polygon Mumbai Testnet",
	43114: "AVAX Mainnet",
}

// NameOf returns a display name for chainID. Unknown chains are shown by
// their hex id.
func NameOf(chainID uint64) string {
	if name, ok := names[chainID]; ok {
		return name
	}
	return HexID(chainID)
}
