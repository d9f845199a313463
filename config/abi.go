package config

const (
	BridgeRequestedEvent          = "BridgeRequested"
	BridgeExecutionSubmittedEvent = "BridgeExecutionSubmitted"
	BridgeRequestWithdrawnEvent   = "BridgeRequestWithdrawn"
)

// BridgeWhenCheapEventsABI is the ABI of the three request lifecycle events of the
// BridgeWhenCheap contract. Each event carries the request id and the full request tuple.
const BridgeWhenCheapEventsABI = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": false, "internalType": "uint256", "name": "requestId", "type": "uint256"},
			{
				"indexed": false,
				"internalType": "struct BridgeWhenCheap.BridgeRequest",
				"name": "request",
				"type": "tuple",
				"components": [
					{"internalType": "address", "name": "source", "type": "address"},
					{"internalType": "address", "name": "destination", "type": "address"},
					{"internalType": "bool", "name": "isTokenTransfer", "type": "bool"},
					{"internalType": "address", "name": "token", "type": "address"},
					{"internalType": "uint256", "name": "amount", "type": "uint256"},
					{"internalType": "uint256", "name": "amountOutMin", "type": "uint256"},
					{"internalType": "uint256", "name": "wantedL1GasPrice", "type": "uint256"},
					{"internalType": "uint256", "name": "l2execGasFeeDeposit", "type": "uint256"}
				]
			}
		],
		"name": "BridgeRequested",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": false, "internalType": "uint256", "name": "requestId", "type": "uint256"},
			{
				"indexed": false,
				"internalType": "struct BridgeWhenCheap.BridgeRequest",
				"name": "request",
				"type": "tuple",
				"components": [
					{"internalType": "address", "name": "source", "type": "address"},
					{"internalType": "address", "name": "destination", "type": "address"},
					{"internalType": "bool", "name": "isTokenTransfer", "type": "bool"},
					{"internalType": "address", "name": "token", "type": "address"},
					{"internalType": "uint256", "name": "amount", "type": "uint256"},
					{"internalType": "uint256", "name": "amountOutMin", "type": "uint256"},
					{"internalType": "uint256", "name": "wantedL1GasPrice", "type": "uint256"},
					{"internalType": "uint256", "name": "l2execGasFeeDeposit", "type": "uint256"}
				]
			}
		],
		"name": "BridgeExecutionSubmitted",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": false, "internalType": "uint256", "name": "requestId", "type": "uint256"},
			{
				"indexed": false,
				"internalType": "struct BridgeWhenCheap.BridgeRequest",
				"name": "request",
				"type": "tuple",
				"components": [
					{"internalType": "address", "name": "source", "type": "address"},
					{"internalType": "address", "name": "destination", "type": "address"},
					{"internalType": "bool", "name": "isTokenTransfer", "type": "bool"},
					{"internalType": "address", "name": "token", "type": "address"},
					{"internalType": "uint256", "name": "amount", "type": "uint256"},
					{"internalType": "uint256", "name": "amountOutMin", "type": "uint256"},
					{"internalType": "uint256", "name": "wantedL1GasPrice", "type": "uint256"},
					{"internalType": "uint256", "name": "l2execGasFeeDeposit", "type": "uint256"}
				]
			}
		],
		"name": "BridgeRequestWithdrawn",
		"type": "event"
	}
]`
