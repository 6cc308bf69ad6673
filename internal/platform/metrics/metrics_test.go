package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("asha", reg)

	c.PatientRegistered()
	c.PatientRegistered()
	c.VisitRecorded("antenatal")
	c.AlertRaised("cardiac")
	c.SyncItem("duplicate")
	c.PublishFailed("emergency-alert")

	if got := testutil.ToFloat64(c.PatientsRegisteredTotal); got != 2 {
		t.Errorf("patients registered = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.VisitsRecordedTotal.WithLabelValues("antenatal")); got != 1 {
		t.Errorf("antenatal visits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.SyncItemsTotal.WithLabelValues("duplicate")); got != 1 {
		t.Errorf("duplicate sync items = %v, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected registered metric families")
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.PatientRegistered()
	c.VisitRecorded("illness")
	c.AlertRaised("other")
	c.SyncItem("applied")
	c.PublishFailed("visit-update")
}

func TestMetricsHandler(t *testing.T) {
	if MetricsHandler() == nil {
		t.Fatal("expected handler")
	}
}
