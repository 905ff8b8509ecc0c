package ocr

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestPageInput(t *testing.T) {
	region := Region{X: 0, Y: 0, Width: 10, Height: 10}
	meta := map[string]string{"psm": "6"}

	in := PageInput(2, []byte{0xff, 0xd8}, ImageFormatJPEG,
		WithLanguages("eng", "chi_tra"),
		WithRegion(region),
		WithDPI(300),
		WithProfile(ProfilePrecise),
		WithMetadata(meta),
	)
	if in.ID != "page-2" {
		t.Fatalf("unexpected id: %s", in.ID)
	}
	if in.Format != ImageFormatJPEG || in.PageIndex != 2 {
		t.Fatalf("unexpected input: %+v", in)
	}
	if !reflect.DeepEqual(in.Languages, []string{"eng", "chi_tra"}) {
		t.Fatalf("unexpected languages: %+v", in.Languages)
	}
	if in.Region == nil || *in.Region != region {
		t.Fatalf("unexpected region: %#v", in.Region)
	}
	if in.DPI != 300 || in.Profile != ProfilePrecise {
		t.Fatalf("unexpected dpi/profile: %d %s", in.DPI, in.Profile)
	}
	meta["psm"] = "7"
	if in.Metadata["psm"] != "6" {
		t.Fatalf("metadata was not copied: %+v", in.Metadata)
	}
}

func TestWithRegionClearsEmpty(t *testing.T) {
	in := Input{Region: &Region{X: 1, Y: 1, Width: 2, Height: 2}}
	WithRegion(Region{})(&in)
	if in.Region != nil {
		t.Fatalf("expected nil region for empty input, got %#v", in.Region)
	}
}

func TestParseProfile(t *testing.T) {
	cases := []struct {
		in      string
		want    Profile
		wantErr bool
	}{
		{"", ProfileBalanced, false},
		{"fast", ProfileFast, false},
		{"balanced", ProfileBalanced, false},
		{"precise", ProfilePrecise, false},
		{"turbo", "", true},
	}
	for _, tc := range cases {
		got, err := ParseProfile(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrUnsupportedProfile) {
				t.Fatalf("ParseProfile(%q) = %v, want ErrUnsupportedProfile", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("ParseProfile(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
	}
}

func TestResultWords(t *testing.T) {
	res := Result{
		PlainText: "a b",
		Blocks: []TextBlock{{
			Lines: []TextLine{
				{Words: []TextWord{{Text: "a"}, {Text: "b"}}},
				{Words: []TextWord{{Text: "c"}}},
			},
		}},
	}
	words := res.Words()
	if len(words) != 3 || words[2].Text != "c" {
		t.Fatalf("unexpected words: %+v", words)
	}
	if res.TextLen() != 3 {
		t.Fatalf("unexpected text length: %d", res.TextLen())
	}
}

func TestRegistry(t *testing.T) {
	Register("fake", func() (Engine, error) {
		return noopEngine{}, nil
	})

	eng, err := New("fake")
	if err != nil {
		t.Fatalf("New(fake): %v", err)
	}
	if eng.Name() != "noop" {
		t.Fatalf("unexpected engine: %s", eng.Name())
	}

	if _, err := New("absent"); err == nil {
		t.Fatal("expected error for unregistered engine")
	}

	found := false
	for _, name := range Engines() {
		if name == "fake" {
			found = true
		}
	}
	if !found {
		t.Fatalf("registry does not list fake: %v", Engines())
	}
}

func TestDefaultEngineRoundTrip(t *testing.T) {
	orig := DefaultEngine()
	defer SetDefaultEngine(orig)

	res, err := DefaultEngine().Recognize(context.Background(), Input{ID: "page-0"})
	if err != nil {
		t.Fatalf("noop engine error: %v", err)
	}
	if res.InputID != "page-0" {
		t.Fatalf("unexpected result id: %s", res.InputID)
	}
}
