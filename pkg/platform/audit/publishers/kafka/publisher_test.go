package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "kinguard/pkg/platform/audit"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		f.records = append(f.records, r)
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

func TestSink_Append(t *testing.T) {
	producer := &fakeProducer{}
	sink := NewSink(producer, "kinguard.audit")

	entry := audit.Entry{
		ID:         "e1",
		Type:       audit.EntryDecisionMade,
		SubjectID:  "kid-1",
		DecisionID: "d1",
		Verdict:    "deny",
	}
	require.NoError(t, sink.Append(context.Background(), entry))
	require.Len(t, producer.records, 1)

	rec := producer.records[0]
	assert.Equal(t, "kinguard.audit", rec.Topic)
	assert.Equal(t, []byte("kid-1"), rec.Key)

	var decoded audit.Entry
	require.NoError(t, json.Unmarshal(rec.Value, &decoded))
	assert.Equal(t, "d1", decoded.DecisionID)

	headers := map[string]string{}
	for _, h := range rec.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "decision_made", headers["entry_type"])
	assert.Equal(t, "compliance", headers["category"])
}

func TestSink_AppendPropagatesBrokerError(t *testing.T) {
	producer := &fakeProducer{err: errors.New("not leader for partition")}
	sink := NewSink(producer, "kinguard.audit")

	err := sink.Append(context.Background(), audit.Entry{ID: "e1", Type: audit.EntryRuleMatched})
	assert.ErrorContains(t, err, "not leader for partition")
}
