package commerce

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/agentbank/syndicate/internal/entities"
	"github.com/agentbank/syndicate/internal/events"
)

// TrackAPICall meters one call against the per-endpoint price table. A call
// whose cost alone reaches the micropayment threshold becomes a direct
// api_payment transaction; anything smaller joins the agent's active batch.
func (a *Aggregator) TrackAPICall(ctx context.Context, agentID, endpoint string) (*entities.APIUsageRecord, error) {
	price := a.priceFor(endpoint)
	record := &entities.APIUsageRecord{
		AgentID:     agentID,
		Endpoint:    endpoint,
		CallsCount:  1,
		CostPerCall: price,
		TotalCost:   price,
		Timestamp:   a.clock.Now(),
	}

	a.mu.Lock()
	a.usage[agentID] = append(a.usage[agentID], record)
	a.mu.Unlock()

	if a.meters != nil {
		a.meters.APIUsageTotal.WithLabelValues(agentID, endpoint).Inc()
	}

	if record.TotalCost.GreaterThanOrEqual(a.threshold()) {
		tx := a.core.NewTransaction(agentID, entities.TxAPIPayment, record.TotalCost, endpoint,
			fmt.Sprintf("API usage: %s", endpoint))
		if _, err := a.core.ProcessTransaction(ctx, tx); err != nil {
			return record, fmt.Errorf("direct api payment: %w", err)
		}
		return record, nil
	}

	if err := a.addToBatch(ctx, agentID, endpoint, record.TotalCost); err != nil {
		return record, err
	}
	return record, nil
}

// addToBatch appends a micropayment to the agent's active batch, creating
// it on first use, and flushes when the total reaches the threshold or the
// batch has aged past the timeout.
func (a *Aggregator) addToBatch(ctx context.Context, agentID, endpoint string, amount decimal.Decimal) error {
	now := a.clock.Now()
	key := agentID + "-active"

	a.mu.Lock()
	batch, ok := a.batches[key]
	if !ok {
		batch = &entities.MicropaymentBatch{
			BatchID:   a.clock.NewUUID(),
			AgentID:   agentID,
			CreatedAt: now,
			Status:    entities.BatchPending,
		}
		a.batches[key] = batch
		if a.meters != nil {
			a.meters.ActiveBatches.Inc()
		}
	}
	batch.Payments = append(batch.Payments, &entities.Micropayment{
		PaymentID: a.clock.NewUUID(),
		Endpoint:  endpoint,
		Amount:    amount,
		Timestamp: now,
	})
	batch.TotalAmount = batch.TotalAmount.Add(amount)

	trigger := ""
	if batch.TotalAmount.GreaterThanOrEqual(a.threshold()) {
		trigger = "threshold"
	} else if now.Sub(batch.CreatedAt) >= a.cfg.BatchTimeout {
		trigger = "timeout"
	}
	if trigger == "" {
		a.mu.Unlock()
		return nil
	}

	// Claim the batch under the batch mutex so the flush is at-most-once,
	// then release before the coordinator takes the per-agent lock.
	batch.Status = entities.BatchExecuting
	delete(a.batches, key)
	a.mu.Unlock()

	return a.flush(ctx, batch, trigger)
}

// FlushBatch force-flushes an agent's active batch regardless of size.
func (a *Aggregator) FlushBatch(ctx context.Context, agentID string) (*entities.MicropaymentBatch, error) {
	key := agentID + "-active"

	a.mu.Lock()
	batch, ok := a.batches[key]
	if !ok {
		a.mu.Unlock()
		return nil, nil
	}
	batch.Status = entities.BatchExecuting
	delete(a.batches, key)
	a.mu.Unlock()

	err := a.flush(ctx, batch, "manual")
	return batch, err
}

// FlushExpired flushes every batch older than the timeout. Intended to be
// driven by a ticker.
func (a *Aggregator) FlushExpired(ctx context.Context) int {
	now := a.clock.Now()

	a.mu.Lock()
	var expired []*entities.MicropaymentBatch
	for key, batch := range a.batches {
		if now.Sub(batch.CreatedAt) >= a.cfg.BatchTimeout {
			batch.Status = entities.BatchExecuting
			delete(a.batches, key)
			expired = append(expired, batch)
		}
	}
	a.mu.Unlock()

	for _, batch := range expired {
		if err := a.flush(ctx, batch, "timeout"); err != nil {
			a.logger.Printf("Timeout flush of batch %s failed: %v", batch.BatchID, err)
		}
	}
	return len(expired)
}

// ActiveBatch returns a copy of the agent's active batch, or nil.
func (a *Aggregator) ActiveBatch(agentID string) *entities.MicropaymentBatch {
	a.mu.Lock()
	defer a.mu.Unlock()
	batch, ok := a.batches[agentID+"-active"]
	if !ok {
		return nil
	}
	cp := *batch
	cp.Payments = make([]*entities.Micropayment, len(batch.Payments))
	copy(cp.Payments, batch.Payments)
	return &cp
}

// flush collapses a claimed batch into one micropayment transaction and
// runs it through the coordinator. The caller must have already removed
// the batch from the active map.
func (a *Aggregator) flush(ctx context.Context, batch *entities.MicropaymentBatch, trigger string) error {
	childIDs := make([]string, len(batch.Payments))
	for i, p := range batch.Payments {
		childIDs[i] = p.PaymentID
	}

	tx := a.core.NewTransaction(batch.AgentID, entities.TxMicropayment, batch.TotalAmount,
		"micropayment-batch", fmt.Sprintf("batch of %d micropayments", len(batch.Payments)))
	tx.Metadata = map[string]interface{}{
		"batch_id":  batch.BatchID,
		"child_ids": childIDs,
		"trigger":   trigger,
	}

	if a.meters != nil {
		a.meters.ActiveBatches.Dec()
		a.meters.MicropaymentTotal.Add(float64(len(batch.Payments)))
	}

	eval, err := a.core.ProcessTransaction(ctx, tx)
	now := a.clock.Now()
	status := "completed"
	if err != nil || eval == nil || eval.Consensus != entities.ConsensusApproved {
		batch.Status = entities.BatchFailed
		status = "failed"
	} else {
		batch.Status = entities.BatchCompleted
		batch.ExecutedAt = &now
	}

	if a.meters != nil {
		a.meters.RecordBatchFlush(trigger, status)
	}
	a.emitter.Emit(events.TypeBatchFlushed, batch.BatchID, map[string]interface{}{
		"batch_id": batch.BatchID,
		"agent_id": batch.AgentID,
		"payments": len(batch.Payments),
		"total":    batch.TotalAmount.String(),
		"trigger":  trigger,
		"status":   status,
	})

	a.logger.Printf("Flushed batch %s (%d payments, %s USDC, trigger=%s, status=%s)",
		batch.BatchID, len(batch.Payments), batch.TotalAmount.StringFixed(6), trigger, status)
	if err != nil {
		return fmt.Errorf("batch %s flush: %w", batch.BatchID, err)
	}
	return nil
}
