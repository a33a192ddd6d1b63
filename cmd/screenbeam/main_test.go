package main

import (
	"image"
	"testing"

	"screenbeam/upnp"
)

func TestParseRegion(t *testing.T) {
	cases := []struct {
		in      string
		want    image.Rectangle
		wantErr bool
	}{
		{"", image.Rectangle{}, false},
		{"0,0,1920,1080", image.Rect(0, 0, 1920, 1080), false},
		{"100,50,640,480", image.Rect(100, 50, 740, 530), false},
		{"0,0,-10,480", image.Rectangle{}, true},
		{"garbage", image.Rectangle{}, true},
	}

	for _, tc := range cases {
		got, err := parseRegion(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("parseRegion(%q) error = %v", tc.in, err)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("parseRegion(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestDeviceMatches(t *testing.T) {
	dev := &upnp.Device{Name: "Living Room TV", Location: "http://192.168.1.50:9197/dmr"}

	if !deviceMatches(dev, "") {
		t.Error("empty pattern should match anything")
	}
	if !deviceMatches(dev, "living") {
		t.Error("name match should be case-insensitive")
	}
	if !deviceMatches(dev, "192.168.1.50") {
		t.Error("location should be matchable")
	}
	if deviceMatches(dev, "bedroom") {
		t.Error("unrelated pattern should not match")
	}
}
