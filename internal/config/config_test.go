package config

import "testing"

func TestNewAppliesDefaults(t *testing.T) {
	tr := New()
	if tr.Listen.RTMPAddr != ":1935" {
		t.Errorf("expected default RTMP addr :1935, got %s", tr.Listen.RTMPAddr)
	}
	if tr.SRT.PBKeyLen != 16 {
		t.Errorf("expected default pbkeylen 16, got %d", tr.SRT.PBKeyLen)
	}
	if err := tr.Validate(); err != nil {
		t.Errorf("default tree should validate, got %v", err)
	}
}

func TestValidateRejectsBadPBKeyLen(t *testing.T) {
	tr := New()
	tr.SRT.PBKeyLen = 17
	if err := tr.Validate(); err == nil {
		t.Error("expected validation error for invalid pbkeylen")
	}
}

func TestVhostDefaultsApplied(t *testing.T) {
	tr := New()
	tr.Vhosts["live"] = &Vhost{}
	tr.ApplyDefaults()

	v := tr.Vhosts["live"]
	if v.HLS.FragmentSeconds != 10 {
		t.Errorf("expected default fragment seconds 10, got %v", v.HLS.FragmentSeconds)
	}
	if v.Play.QueueDurationMS != 10_000 {
		t.Errorf("expected default queue duration 10000ms, got %v", v.Play.QueueDurationMS)
	}
	if err := tr.Validate(); err != nil {
		t.Errorf("defaulted vhost should validate: %v", err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	tr := New()
	tr.Vhosts["live"] = &Vhost{Forward: []Forward{{URL: "rtmp://a"}}}
	clone := tr.Clone()

	clone.Vhosts["live"].Forward[0].URL = "rtmp://b"
	if tr.Vhosts["live"].Forward[0].URL != "rtmp://a" {
		t.Error("clone mutation leaked back into original tree")
	}
}
