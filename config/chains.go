package config

import "fmt"

const (
	ethereumMainnetChainID = 1
	optimismMainnetChainID = 10
	gnosisChainID          = 100
	polygonMainnetChainID  = 137
	arbitrumMainnetChainID = 42161

	ethereumGoerliChainID  = 5
	optimismGoerliChainID  = 420
	arbitrumGoerliChainID  = 421613
	ethereumSepoliaChainID = 11155111

	ethereumName = "ETHEREUM"
	optimismName = "OPTIMISM"
	gnosisName   = "GNOSIS"
	polygonName  = "POLYGON"
	arbitrumName = "ARBITRUM"
)

// ChainName returns the chain name based on the chain ID
func ChainName(chainID uint64) (string, error) {
	switch chainID {
	case ethereumMainnetChainID, ethereumGoerliChainID, ethereumSepoliaChainID:
		return ethereumName, nil
	case optimismMainnetChainID, optimismGoerliChainID:
		return optimismName, nil
	case gnosisChainID:
		return gnosisName, nil
	case polygonMainnetChainID:
		return polygonName, nil
	case arbitrumMainnetChainID, arbitrumGoerliChainID:
		return arbitrumName, nil
	}
	return "", fmt.Errorf("unsupported chain ID: %d", chainID)
}
