package bus

import (
	"testing"
	"time"
)

func TestPublish_FanOutInOrder(t *testing.T) {
	b := New()
	var got []string
	b.Subscribe(func(e Event) { got = append(got, "first:"+e.Kind) })
	b.Subscribe(func(e Event) { got = append(got, "second:"+e.Kind) })

	b.Publish(Event{AssignmentID: "asg-1", Kind: KindGrowthSample, TriggerDate: time.Now()})

	want := []string{"first:growth_sample", "second:growth_sample"}
	if len(got) != len(want) {
		t.Fatalf("deliveries = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivery %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPublish_AssignsID(t *testing.T) {
	b := New()
	var seen Event
	b.Subscribe(func(e Event) { seen = e })

	b.Publish(Event{AssignmentID: "asg-1", Kind: KindMortality})
	if seen.ID == "" {
		t.Error("published event has no ID")
	}

	b.Publish(Event{ID: "fixed", AssignmentID: "asg-1", Kind: KindMortality})
	if seen.ID != "fixed" {
		t.Errorf("ID = %q, want caller's fixed ID", seen.ID)
	}
}

func TestPublish_NoHandlers(t *testing.T) {
	b := New()
	b.Subscribe(nil)
	b.Publish(Event{AssignmentID: "asg-1", Kind: KindTransfer})
}
