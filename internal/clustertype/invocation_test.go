package clustertype

import (
	"testing"
	"time"
)

func TestSplitRequiresDescriptor(t *testing.T) {
	inv := NewInvocation("git://example", "abc123", nil, time.Now())

	if _, _, ok := inv.Split(); ok {
		t.Fatalf("Split must return ok=false for a descriptor-less invocation")
	}

	inv2 := NewInvocation("git://example", "abc123", &ExperimentDescriptor{Name: "exp"}, time.Now())
	rec, desc, ok := inv2.Split()
	if !ok {
		t.Fatalf("Split must return ok=true when a descriptor is present")
	}
	if desc.Name != "exp" {
		t.Errorf("descriptor mismatch: %+v", desc)
	}
	if rec.ID != inv2.ID {
		t.Errorf("record id mismatch: got %v, want %v", rec.ID, inv2.ID)
	}
}

func TestRecordProjectsNameOnlyWhenDescriptorPresent(t *testing.T) {
	broken := NewInvocation("git://example", "abc", nil, time.Now())
	if broken.Record().Name != nil {
		t.Fatalf("a broken-manifest invocation's record must have a nil Name")
	}

	ok := NewInvocation("git://example", "abc", &ExperimentDescriptor{Name: "exp"}, time.Now())
	rec := ok.Record()
	if rec.Name == nil || *rec.Name != "exp" {
		t.Fatalf("record Name = %v, want \"exp\"", rec.Name)
	}
}

func TestAddLogOverwritesLatestUpload(t *testing.T) {
	inv := NewInvocation("git://example", "abc", &ExperimentDescriptor{Name: "exp"}, time.Now())

	if inv.HostHasLogged("alpha") {
		t.Fatalf("a fresh invocation must have no logs")
	}

	inv.AddLog("alpha", "logs/a.tar.gz")
	if !inv.HostHasLogged("alpha") {
		t.Fatalf("HostHasLogged must be true after AddLog")
	}

	inv.AddLog("alpha", "logs/b.tar.gz")
	if got := inv.Logs["alpha"]; got != "logs/b.tar.gz" {
		t.Fatalf("second AddLog must overwrite: got %q, want %q", got, "logs/b.tar.gz")
	}
}

func TestHostSpecLookup(t *testing.T) {
	d := &ExperimentDescriptor{
		Hosts: map[string]HostSpec{
			"alpha": {Command: "run.sh"},
		},
	}
	spec, ok := d.HostSpec("alpha")
	if !ok || spec.Command != "run.sh" {
		t.Fatalf("HostSpec(alpha) = (%+v, %v)", spec, ok)
	}
	if _, ok := d.HostSpec("beta"); ok {
		t.Fatalf("HostSpec(beta) must report not-found for an unnamed host")
	}
}
