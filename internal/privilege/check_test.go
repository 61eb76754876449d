package privilege

import "testing"

func TestRequiresElevation(t *testing.T) {
	if RequiresElevation("") {
		t.Fatal("unknown owner should not require elevation")
	}
	if me := CurrentUser(); me != "" && RequiresElevation(me) {
		t.Fatalf("own process (%s) should not require elevation", me)
	}
	if !IsRunningAsRoot() && CurrentUser() != "" && !RequiresElevation("port-killer-nobody") {
		t.Fatal("foreign owner should require elevation")
	}
}
