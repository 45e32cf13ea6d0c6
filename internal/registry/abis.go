package registry

// ABI fragments used by the bridge adapters and the settlement monitor.
// Function and event signatures must match the deployed contracts exactly.
const (
	ERC20MinimalABI = `[
		{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`

	StargateRouterABI = `[
		{"name":"quoteLayerZeroFee","type":"function","stateMutability":"view","inputs":[{"name":"_dstChainId","type":"uint16"},{"name":"_functionType","type":"uint8"},{"name":"_toAddress","type":"bytes"},{"name":"_transferAndCallPayload","type":"bytes"},{"name":"_lzTxParams","type":"tuple","components":[{"name":"dstGasForCall","type":"uint256"},{"name":"dstNativeAmount","type":"uint256"},{"name":"dstNativeAddr","type":"bytes"}]}],"outputs":[{"name":"","type":"uint256"},{"name":"","type":"uint256"}]},
		{"name":"swap","type":"function","stateMutability":"payable","inputs":[{"name":"_dstChainId","type":"uint16"},{"name":"_srcPoolId","type":"uint256"},{"name":"_dstPoolId","type":"uint256"},{"name":"_refundAddress","type":"address"},{"name":"_amountLD","type":"uint256"},{"name":"_minAmountLD","type":"uint256"},{"name":"_lzTxParams","type":"tuple","components":[{"name":"dstGasForCall","type":"uint256"},{"name":"dstNativeAmount","type":"uint256"},{"name":"dstNativeAddr","type":"bytes"}]},{"name":"_to","type":"bytes"},{"name":"_payload","type":"bytes"}],"outputs":[]}
	]`

	StargateRouterETHABI = `[
		{"name":"swapETH","type":"function","stateMutability":"payable","inputs":[{"name":"_dstChainId","type":"uint16"},{"name":"_refundAddress","type":"address"},{"name":"_toAddress","type":"bytes"},{"name":"_amountLD","type":"uint256"},{"name":"_minAmountLD","type":"uint256"}],"outputs":[]}
	]`

	LayerZeroPacketReceivedABI = `[
		{"anonymous":false,"name":"PacketReceived","type":"event","inputs":[{"indexed":true,"name":"srcChainId","type":"uint16"},{"indexed":false,"name":"srcAddress","type":"bytes"},{"indexed":true,"name":"dstAddress","type":"address"},{"indexed":false,"name":"nonce","type":"uint64"},{"indexed":false,"name":"payloadHash","type":"bytes32"}]}
	]`

	HopL1BridgeABI = `[
		{"name":"sendToL2","type":"function","stateMutability":"payable","inputs":[{"name":"chainId","type":"uint256"},{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"deadline","type":"uint256"},{"name":"relayer","type":"address"},{"name":"relayerFee","type":"uint256"}],"outputs":[]}
	]`

	HopL2AmmWrapperABI = `[
		{"name":"swapAndSend","type":"function","stateMutability":"payable","inputs":[{"name":"chainId","type":"uint256"},{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"},{"name":"bonderFee","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"deadline","type":"uint256"},{"name":"destinationAmountOutMin","type":"uint256"},{"name":"destinationDeadline","type":"uint256"}],"outputs":[]}
	]`

	HopL2BridgeABI = `[
		{"name":"minBonderBps","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"minBonderFeeAbsolute","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"anonymous":false,"name":"TransferFromL1Completed","type":"event","inputs":[{"indexed":true,"name":"recipient","type":"address"},{"indexed":false,"name":"amount","type":"uint256"},{"indexed":false,"name":"amountOutMin","type":"uint256"},{"indexed":false,"name":"deadline","type":"uint256"},{"indexed":true,"name":"relayer","type":"address"},{"indexed":false,"name":"relayerFee","type":"uint256"}]}
	]`

	// HopBridgeEventsABI holds the events shared by the L1 and L2 bridges for
	// transfers that leave an L2.
	HopBridgeEventsABI = `[
		{"anonymous":false,"name":"TransferSent","type":"event","inputs":[{"indexed":true,"name":"transferId","type":"bytes32"},{"indexed":true,"name":"chainId","type":"uint256"},{"indexed":true,"name":"recipient","type":"address"},{"indexed":false,"name":"amount","type":"uint256"},{"indexed":false,"name":"transferNonce","type":"bytes32"},{"indexed":false,"name":"bonderFee","type":"uint256"},{"indexed":false,"name":"index","type":"uint256"},{"indexed":false,"name":"amountOutMin","type":"uint256"},{"indexed":false,"name":"deadline","type":"uint256"}]},
		{"anonymous":false,"name":"WithdrawalBonded","type":"event","inputs":[{"indexed":true,"name":"transferId","type":"bytes32"},{"indexed":false,"name":"amount","type":"uint256"}]}
	]`

	AcrossSpokePoolABI = `[
		{"name":"depositV3","type":"function","stateMutability":"payable","inputs":[{"name":"depositor","type":"address"},{"name":"recipient","type":"address"},{"name":"inputToken","type":"address"},{"name":"outputToken","type":"address"},{"name":"inputAmount","type":"uint256"},{"name":"outputAmount","type":"uint256"},{"name":"destinationChainId","type":"uint256"},{"name":"exclusiveRelayer","type":"address"},{"name":"quoteTimestamp","type":"uint32"},{"name":"fillDeadline","type":"uint32"},{"name":"exclusivityDeadline","type":"uint32"},{"name":"message","type":"bytes"}],"outputs":[]},
		{"anonymous":false,"name":"FilledV3Relay","type":"event","inputs":[{"indexed":false,"name":"inputToken","type":"address"},{"indexed":false,"name":"outputToken","type":"address"},{"indexed":false,"name":"inputAmount","type":"uint256"},{"indexed":false,"name":"outputAmount","type":"uint256"},{"indexed":false,"name":"repaymentChainId","type":"uint256"},{"indexed":true,"name":"originChainId","type":"uint256"},{"indexed":true,"name":"depositId","type":"uint32"},{"indexed":false,"name":"fillDeadline","type":"uint32"},{"indexed":false,"name":"exclusivityDeadline","type":"uint32"},{"indexed":false,"name":"exclusiveRelayer","type":"address"},{"indexed":true,"name":"relayer","type":"address"},{"indexed":false,"name":"depositor","type":"address"},{"indexed":false,"name":"recipient","type":"address"},{"indexed":false,"name":"message","type":"bytes"},{"indexed":false,"name":"relayExecutionInfo","type":"tuple","components":[{"name":"updatedRecipient","type":"address"},{"name":"updatedMessage","type":"bytes"},{"name":"updatedOutputAmount","type":"uint256"},{"name":"fillType","type":"uint8"}]}]}
	]`
)
