package mirv

import "testing"

func TestNormalizeName(t *testing.T) {
	for _, tt := range []struct {
		in, out string
	}{
		{"core::panicking::panic", "core::panicking::panic"},
		{"core::panicking::panic::h0123456789abcdef", "core::panicking::panic"},
		{"alloc::boxed::Box::<i32>::new", "alloc::boxed::Box::new"},
		{"<alloc::boxed::Box<T>>::new", "alloc::boxed::Box::new"},
		{"<[closure@main.rs:3:13] as core::ops::Fn<(u8,)>>::call", "Fn::call"},
		{"<fn(u8) -> u8 as core::ops::FnOnce<(u8,)>>::call_once", "FnOnce::call_once"},
		{"<{coroutine@main} as core::ops::Coroutine>::resume", "Coroutine::resume"},
		{"core::ptr::drop_in_place::<std::vec::Vec<u8>>", "core::ptr::drop_in_place"},
	} {
		if got := normalizeName(tt.in); got != tt.out {
			t.Errorf("normalizeName(%q)=%q, want %q", tt.in, got, tt.out)
		}
	}
}

func TestLookupModel(t *testing.T) {
	for _, name := range []string{
		"core::panicking::panic_fmt",
		"core::panicking::panic_const::panic_const_add_overflow",
		"core::panicking::panic_const::panic_const_unknown",
		"alloc::alloc::exchange_malloc",
		"<T as core::ops::FnMut<A>>::call_mut",
		"std::process::exit",
	} {
		if lookupModel(name) == nil {
			t.Errorf("no model for %q", name)
		}
	}

	if lookupModel("std::io::_print") != nil {
		t.Fatal("unexpected model")
	}
}

func TestPanicWith(t *testing.T) {
	if f := panicWith("assertion failed: x < 3"); f.Status != ExecutionStatusFailed {
		t.Fatalf("unexpected status: %s", f.Status)
	} else if f := panicWith("explicit panic"); f.Status != ExecutionStatusPanicked {
		t.Fatalf("unexpected status: %s", f.Status)
	}
}
