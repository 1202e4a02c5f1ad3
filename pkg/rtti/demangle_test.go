package rtti

import "testing"

func TestDemangle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{".?AVFoo@@", "Foo"},
		{".?AUBar@ns@@", "ns::Bar"},
		{".?AVWidget@ui@engine@@", "engine::ui::Widget"},
		{".?AW4Color@gfx@@", "gfx::Color"},
		{".?ATValue@@", "Value"},
		{".?AV?$vector@HV?$allocator@H@std@@@std@@", "std::vector<int,std::allocator<int> >"},
		{".?AV?$basic_string@DU?$char_traits@D@std@@V?$allocator@D@2@@std@@", "std::basic_string<char,std::char_traits<char>,std::allocator<char> >"},
		{".?AV?$array@H$0M@@std@@", "std::array<int,12>"},
		{".?AV?$Fixed@$00$0?3@@", "Fixed<1,-4>"},
		{".?AV?$Handle@PEAVNode@scene@@@@", "Handle<scene::Node *>"},
		{".?AV?$Ref@PEBD@@", "Ref<char const *>"},
		{".?AV?$Map@_K_N@@", "Map<unsigned __int64,bool>"},
		{".?AV?$tuple@$$V@std@@", "std::tuple<>"},
		{".?AVImpl@?A0x1b2c3d4e@@", "`anonymous namespace'::Impl"},
		{".?AVOuter@@Inner@@", ".?AVOuter@@Inner@@"},
		{".?AV@@", ".?AV@@"},
		{".?AV?$Broken@H", ".?AV?$Broken@H"},
		{".?AVFoo@1@@", ".?AVFoo@1@@"},
		{"_ZN3foo3barEv", "foo::bar()"},
		{"N3foo3BarE", "foo::Bar"},
		{"7Derived", "Derived"},
		{"WidgetManager", "WidgetManager"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Demangle(tt.in); got != tt.want {
			t.Errorf("Demangle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDemanglerCache(t *testing.T) {
	d := NewDemangler(2)
	for i := 0; i < 3; i++ {
		if got := d.Demangle(".?AVFoo@@"); got != "Foo" {
			t.Fatalf("got %q", got)
		}
	}
	if d.Len() != 1 {
		t.Errorf("cache holds %d names, want 1", d.Len())
	}
	d.Demangle(".?AVA@@")
	d.Demangle(".?AVB@@")
	if d.Len() != 2 {
		t.Errorf("cache holds %d names, want 2 after eviction", d.Len())
	}
}
