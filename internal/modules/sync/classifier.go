package sync

import "github.com/Cocopuffff/TraderJoe/internal/clients/oanda"

// Classify partitions a raw changes response into a Batch. It is a pure
// function: no I/O, no mutation of the input.
//
// When the same trade id appears in more than one stream (opened and closed
// within one polling window), the later lifecycle stage wins: the delta list
// is ordered opened, reduced, closed, and downstream application processes
// it in order, so the closed record is applied last.
func Classify(changes *oanda.AccountChanges) Batch {
	batch := Batch{
		TransactionID:   changes.LastTransactionID,
		OrdersFilled:    changes.Changes.OrdersFilled,
		OrdersCancelled: changes.Changes.OrdersCancelled,
	}

	live := liveStateIndex(changes.State)

	for _, t := range changes.Changes.TradesOpened {
		batch.TradeDeltas = append(batch.TradeDeltas, TradeDelta{Kind: DeltaOpened, Trade: t, Live: live[t.ID]})
	}
	for _, t := range changes.Changes.TradesReduced {
		batch.TradeDeltas = append(batch.TradeDeltas, TradeDelta{Kind: DeltaReduced, Trade: t, Live: live[t.ID]})
	}
	for _, t := range changes.Changes.TradesClosed {
		// Closed trades carry no live state; unrealized figures zero out.
		batch.TradeDeltas = append(batch.TradeDeltas, TradeDelta{Kind: DeltaClosed, Trade: t})
	}

	return batch
}

// liveStateIndex maps trade id to its snapshot entry so each open or reduced
// delta picks up its unrealized PL and margin in one lookup.
func liveStateIndex(state oanda.AccountState) map[string]*oanda.CalculatedTradeState {
	idx := make(map[string]*oanda.CalculatedTradeState, len(state.Trades))
	for i := range state.Trades {
		idx[state.Trades[i].ID] = &state.Trades[i]
	}
	return idx
}
