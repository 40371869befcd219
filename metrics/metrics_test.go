package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/ledger-engine/ledger"
)

func TestRecorder_CountsOperationsAndDocuments(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())

	r.ObserveOperation("record_sale", "ok", 3*time.Millisecond)
	r.ObserveOperation("record_sale", "insufficient_stock", time.Millisecond)
	r.ObserveOperation("record_sale", "ok", time.Millisecond)
	r.DocumentRecorded(ledger.KindSale, decimal.RequireFromString("300.50"))
	r.DocumentRecorded(ledger.KindSale, decimal.RequireFromString("99.50"))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.operations.WithLabelValues("record_sale", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.operations.WithLabelValues("record_sale", "insufficient_stock")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.documents.WithLabelValues("sale")))
	assert.Equal(t, 400.0, testutil.ToFloat64(r.amountBase.WithLabelValues("sale")))
}

func TestRecorder_EventDelivered(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())

	r.EventDelivered(ledger.TopicSaleRecorded, nil)
	r.EventDelivered(ledger.TopicSaleRecorded, errors.New("down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.deliveries.WithLabelValues(ledger.TopicSaleRecorded, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.deliveries.WithLabelValues(ledger.TopicSaleRecorded, "error")))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(201))
	assert.Equal(t, "4xx", statusClass(409))
	assert.Equal(t, "5xx", statusClass(503))
}
