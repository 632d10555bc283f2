package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.IncRequest("page")
	m.ObserveDuration(time.Second)
	m.IncItems()
	m.IncError("timeout")
	m.IncCategoryLookup("resolved")
	m.IncValidation("valid")
	m.IncStoreOp("query", nil)
	m.IncTranslation("ok")
	m.IncGuardRejection()
}

func TestStoreOpOutcomeLabels(t *testing.T) {
	m := New()
	m.IncStoreOp("query", nil)
	m.IncStoreOp("query", errors.New("boom"))
	m.IncStoreOp("query", errors.New("boom"))

	if got := testutil.ToFloat64(m.StoreOps.WithLabelValues("query", "ok")); got != 1 {
		t.Fatalf("ok count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StoreOps.WithLabelValues("query", "error")); got != 2 {
		t.Fatalf("error count = %v, want 2", got)
	}
}
