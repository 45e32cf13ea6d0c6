package settlement

import (
	"context"
	"fmt"

	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/providers/aggregator"
)

// AggregatorStatus is the aggregator API call the probe relies on.
type AggregatorStatus interface {
	Status(ctx context.Context, txHash string, fromChainID, toChainID uint64) (aggregator.BridgeStatus, error)
}

// AggregatorProbe reads settlement progress from the aggregator's
// bridge-status endpoint.
type AggregatorProbe struct {
	Client AggregatorStatus
}

func (p AggregatorProbe) Status(ctx context.Context, rec model.BridgeRecord) (Progress, error) {
	source, err := id.ParseChain(rec.SourceChain)
	if err != nil {
		return Progress{}, err
	}
	destination, err := id.ParseChain(rec.DestinationChain)
	if err != nil {
		return Progress{}, err
	}
	st, err := p.Client.Status(ctx, rec.SourceTxHash, uint64(source.EVMChainID), uint64(destination.EVMChainID))
	if err != nil {
		return Progress{}, err
	}
	switch {
	case st.DestinationTxStatus == aggregator.TxCompleted:
		return Progress{Completed: true, DestinationTxHash: st.DestinationTxHash, Detail: "aggregator reported destination completed"}, nil
	case st.SourceTxStatus == aggregator.TxFailed || st.DestinationTxStatus == aggregator.TxFailed:
		return Progress{Failed: true, Detail: fmt.Sprintf("aggregator reported failure (source=%s destination=%s)", st.SourceTxStatus, st.DestinationTxStatus)}, nil
	default:
		return Progress{}, nil
	}
}
