package pageaction

import "testing"

func TestShowHide(t *testing.T) {
	r := NewRegistry()
	if r.Visible("1") {
		t.Error("expected unknown tab to be hidden")
	}
	r.Show("1")
	if !r.Visible("1") {
		t.Error("expected tab 1 visible")
	}
	r.Hide("1")
	if r.Visible("1") {
		t.Error("expected tab 1 hidden")
	}
}

func TestForget(t *testing.T) {
	r := NewRegistry()
	r.Show("1")
	r.Forget("1")
	r.Forget("1")
	if r.Visible("1") {
		t.Error("expected forgotten tab to be hidden")
	}
}

func TestOnChange(t *testing.T) {
	r := NewRegistry()
	var changes []bool
	r.OnChange(func(tabID string, visible bool) {
		if tabID != "7" {
			t.Errorf("unexpected tab %s", tabID)
		}
		changes = append(changes, visible)
	})

	r.Show("7")
	r.Show("7")
	r.Hide("7")
	r.Hide("7")

	if len(changes) != 2 || !changes[0] || changes[1] {
		t.Errorf("expected [true false], got %v", changes)
	}
}
